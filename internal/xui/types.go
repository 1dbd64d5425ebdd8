package xui

import "encoding/json"

// apiResponse общий конверт ответов панели 3x-ui.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// inbound описывает входящее подключение панели. Поле settings приходит
// JSON-строкой внутри JSON-ответа, это особенность форка MHSanaei.
type inbound struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

type inboundSettings struct {
	Clients []Credential `json:"clients"`
}

// Credential представляет клиентскую запись на панели.
type Credential struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	ExpiryTime int64  `json:"expiryTime"` // миллисекунды unix
	Flow       string `json:"flow,omitempty"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	SubID      string `json:"subId,omitempty"`
}

// addClientRequest тело запроса addClient: settings сериализуется строкой.
type addClientRequest struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

type deleteClientRequest struct {
	ID       int    `json:"id"`
	ClientID string `json:"clientId"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
