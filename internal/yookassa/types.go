package yookassa

// Amount представляет денежную сумму.
type Amount struct {
	Value    string `json:"value"`    // сумма, например "130.00"
	Currency string `json:"currency"` // валюта, например "RUB"
}

// Confirmation описывает способ подтверждения платежа пользователем.
type Confirmation struct {
	Type            string `json:"type"`                 // "redirect"
	ReturnURL       string `json:"return_url,omitempty"` // куда вернуть после оплаты
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// ReceiptItem позиция чека по 54-ФЗ.
type ReceiptItem struct {
	Description    string `json:"description"`
	Quantity       string `json:"quantity"`
	Amount         Amount `json:"amount"`
	VatCode        int    `json:"vat_code"`
	PaymentMode    string `json:"payment_mode"`
	PaymentSubject string `json:"payment_subject"`
}

// Receipt чек для фискализации платежа.
type Receipt struct {
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Items []ReceiptItem `json:"items"`
}

// CreatePaymentRequest представляет запрос на создание платежа.
type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description"`
	Receipt      *Receipt          `json:"receipt,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreatePaymentResponse представляет ответ на создание платежа.
type CreatePaymentResponse struct {
	ID           string       `json:"id"`     // ID платежа в ЮKassa
	Status       string       `json:"status"` // статус платежа, например "pending"
	Amount       Amount       `json:"amount"`
	Confirmation Confirmation `json:"confirmation"`
}

// PaymentStatusResponse представляет ответ на запрос статуса платежа.
type PaymentStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
