package posting

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// payloadHash computes the canonical content hash stored with an idempotency
// key. Replays with the same key compare against it: equal hash returns the
// committed entry, a different hash is a duplicate-posting error. Map keys
// marshal sorted, so the encoding is byte-stable.
func payloadHash(req PostRequest) string {
	type lineKey struct {
		AccountID   string            `json:"account_id"`
		Side        string            `json:"side"`
		AmountMinor int64             `json:"amount_minor"`
		Tags        map[string]string `json:"tags,omitempty"`
		Memo        string            `json:"memo,omitempty"`
	}
	type payload struct {
		Date     string    `json:"date"`
		Currency string    `json:"currency"`
		Memo     string    `json:"memo,omitempty"`
		Source   string    `json:"source"`
		Lines    []lineKey `json:"lines"`
	}
	p := payload{
		Date:     req.Date.UTC().Format(time.RFC3339),
		Currency: req.Currency,
		Memo:     req.Memo,
		Source:   string(req.Source),
		Lines:    make([]lineKey, len(req.Lines)),
	}
	for i, ln := range req.Lines {
		lk := lineKey{
			AccountID:   ln.AccountID.String(),
			Side:        string(ln.Side),
			AmountMinor: ln.AmountMinor,
			Memo:        ln.Memo,
		}
		if len(ln.Tags) > 0 {
			lk.Tags = make(map[string]string, len(ln.Tags))
			for t, v := range ln.Tags {
				lk.Tags[string(t)] = v.String()
			}
		}
		p.Lines[i] = lk
	}
	b, _ := json.Marshal(p)
	return hashBytes(b)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
