package token

import (
	"encoding/json"
	"strings"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

const (
	prefixTicket = "E"
	prefixOrder  = "C"
	separator    = "|"
)

// Code is the canonical form of a scanned redemption code. Every accepted
// wire format is normalized into it before lookup.
type Code struct {
	Kind   domain.UnitKind
	UnitID string
	Token  string
}

type legacyCode struct {
	TicketID string `json:"ticketId"`
	CompraID string `json:"compraId"`
	Token    string `json:"token"`
}

// ParseCode accepts the compact "E|<id>|<token>" / "C|<id>|<token>" format
// and the older JSON payload {"ticketId"|"compraId": ..., "token": ...}.
func ParseCode(raw string) (Code, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Code{}, domain.ErrInvalidCode
	}
	if strings.HasPrefix(raw, "{") {
		return parseLegacy(raw)
	}

	parts := strings.Split(raw, separator)
	if len(parts) != 3 {
		return Code{}, domain.ErrInvalidCode
	}
	var kind domain.UnitKind
	switch strings.TrimSpace(parts[0]) {
	case prefixTicket:
		kind = domain.UnitKindTicket
	case prefixOrder:
		kind = domain.UnitKindOrder
	default:
		return Code{}, domain.ErrInvalidCode
	}
	id := strings.TrimSpace(parts[1])
	sig := strings.TrimSpace(parts[2])
	if id == "" || sig == "" {
		return Code{}, domain.ErrInvalidCode
	}
	return Code{Kind: kind, UnitID: id, Token: sig}, nil
}

func parseLegacy(raw string) (Code, error) {
	var lc legacyCode
	if err := json.Unmarshal([]byte(raw), &lc); err != nil {
		return Code{}, domain.ErrInvalidCode
	}
	var code Code
	switch {
	case lc.TicketID != "" && lc.CompraID == "":
		code = Code{Kind: domain.UnitKindTicket, UnitID: lc.TicketID}
	case lc.CompraID != "" && lc.TicketID == "":
		code = Code{Kind: domain.UnitKindOrder, UnitID: lc.CompraID}
	default:
		return Code{}, domain.ErrInvalidCode
	}
	// A legacy payload without a token still parses; verification rejects it.
	code.Token = lc.Token
	return code, nil
}

// FormatCode renders the compact wire format printed in QR codes.
func FormatCode(kind domain.UnitKind, unitID, token string) string {
	prefix := prefixTicket
	if kind == domain.UnitKindOrder {
		prefix = prefixOrder
	}
	return prefix + separator + unitID + separator + token
}
