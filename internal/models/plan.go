package models

import (
	"fmt"
	"time"
)

// Идентификаторы тарифов.
const (
	PlanTrial = "trial"
	PlanM1    = "m1"
	PlanM3    = "m3"
	PlanM12   = "m12"
)

// Plan описывает один тариф: длительность периода и цену в рублях.
type Plan struct {
	ID       string
	Months   int
	Days     int // Заполняется только для триала
	PriceRUB int
}

// Duration возвращает длительность тарифного периода.
// Месяц считается равным 30 дням, как и у платёжного провайдера.
func (p Plan) Duration() time.Duration {
	if p.Days > 0 {
		return time.Duration(p.Days) * 24 * time.Hour
	}
	return time.Duration(p.Months) * 30 * 24 * time.Hour
}

// SubscriptionPlanType возвращает значение plan_type подписки для тарифа.
func (p Plan) SubscriptionPlanType() string {
	if p.ID == PlanTrial {
		return PlanTrial
	}
	return "paid_" + p.ID
}

// Catalog хранит набор доступных тарифов, загруженный из конфига.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog собирает каталог тарифов из настроек цен и триала.
func NewCatalog(trialDays, priceM1, priceM3, priceM12 int) *Catalog {
	return &Catalog{plans: map[string]Plan{
		PlanTrial: {ID: PlanTrial, Days: trialDays},
		PlanM1:    {ID: PlanM1, Months: 1, PriceRUB: priceM1},
		PlanM3:    {ID: PlanM3, Months: 3, PriceRUB: priceM3},
		PlanM12:   {ID: PlanM12, Months: 12, PriceRUB: priceM12},
	}}
}

// Get возвращает тариф по идентификатору.
func (c *Catalog) Get(id string) (Plan, error) {
	plan, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("unknown plan: %s", id)
	}
	return plan, nil
}

// Paid возвращает true, если тариф существует и является платным.
func (c *Catalog) Paid(id string) bool {
	plan, ok := c.plans[id]
	return ok && plan.ID != PlanTrial
}
