package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/tradedesk/internal/log"
)

// requireNonPublicNetwork rejects any peer that is not loopback, private or
// link-local. The admin port is never meant to be reachable from the
// internet, even if a security group is misconfigured.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			deny(w, r, L, "unparseable remote address")
			return
		}
		addr, err := netip.ParseAddr(host)
		if err != nil {
			deny(w, r, L, "invalid remote ip")
			return
		}
		addr = addr.Unmap()
		if !addr.IsLoopback() && !addr.IsPrivate() && !addr.IsLinkLocalUnicast() {
			deny(w, r, L, "public source address")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, r *http.Request, L log.Logger, reason string) {
	L.Warn(r.Context(), "ops request rejected",
		"reason", reason,
		"network.peer.address", r.RemoteAddr,
		"url.path", r.URL.Path,
	)
	http.Error(w, "forbidden", http.StatusForbidden)
}
