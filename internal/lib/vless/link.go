// Package vless собирает ссылки подключения VLESS-Reality и deeplink
// для клиента v2raytun из федеративного UUID пользователя и параметров сервера.
package vless

import (
	"fmt"
	"net/url"

	"github.com/swagavpn/provisioner/internal/models"
)

// BuildLink возвращает vless:// URI для пользователя на конкретном сервере.
// Пустые параметры в строку запроса не попадают.
func BuildLink(credentialUUID string, srv *models.Server) string {
	params := url.Values{}
	set := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}

	set("encryption", "none")
	set("security", srv.Security)
	set("type", srv.NetworkType)
	set("pbk", srv.PublicKey)
	set("fp", srv.Fingerprint)
	set("sni", srv.Domain)
	set("sid", srv.FirstShortID())
	set("spx", srv.SpiderX)
	set("flow", srv.Flow)
	set("host", srv.XHTTPHost)
	set("path", srv.XHTTPPath)
	set("mode", srv.XHTTPMode)

	remark := url.QueryEscape("SWAGA - " + srv.Name)
	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		credentialUUID, srv.Host, srv.Port, params.Encode(), remark)
}

// BuildDeeplink возвращает v2raytun:// deeplink для установки конфига в один клик.
func BuildDeeplink(vlessURL string) string {
	return "v2raytun://install-config?url=" + url.QueryEscape(vlessURL) + "&name=SWAGA"
}
