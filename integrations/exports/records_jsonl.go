package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"p2pmarket/integrations/journal"
)

// RecordsJSONL builds a JSON Lines export for the supplied records and
// returns the serialised payload alongside a checksum.
func RecordsJSONL(records []journal.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		payload := map[string]interface{}{
			"seq":        record.Seq,
			"id":         record.ID.String(),
			"type":       record.Type,
			"offer_id":   record.OfferID,
			"deal_id":    record.DealID,
			"created_at": record.CreatedAt.UTC().Format(time.RFC3339Nano),
			"attributes": record.Attributes,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
