package models

import (
	"strings"
	"time"
)

// Server представляет одну 3x-ui панель с её реквизитами доступа
// и параметрами VLESS-Reality для построения ссылок подключения.
// Записи создаются оператором; движок их только читает.
type Server struct {
	ID       int64
	Name     string // Уникальное имя сервера
	IsActive bool   // Неактивные серверы исключаются из синхронизации

	// Реквизиты API панели
	APIURL      string
	APIUsername string
	APIPassword string
	InboundID   int

	// Параметры подключения
	Host        string
	Port        int
	PublicKey   string
	ShortIDs    string // Список short id через запятую
	Domain      string // SNI
	Security    string
	NetworkType string
	Flow        string
	Fingerprint string
	SpiderX     string

	// Параметры xhttp (опциональные)
	XHTTPHost string
	XHTTPPath string
	XHTTPMode string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FirstShortID возвращает первый short id из списка.
func (s *Server) FirstShortID() string {
	if s.ShortIDs == "" {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(s.ShortIDs, ",", 2)[0])
}
