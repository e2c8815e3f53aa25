// Package exports serialises journal records for offline reconciliation.
package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"p2pmarket/integrations/journal"
)

// RecordsCSV builds a CSV export for the supplied records and returns the
// serialised data alongside a SHA-256 checksum of the payload. Attributes are
// flattened into a single key=value column sorted by key.
func RecordsCSV(records []journal.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"seq", "id", "type", "offer_id", "deal_id", "created_at", "attributes"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		row := []string{
			fmt.Sprintf("%d", record.Seq),
			record.ID.String(),
			record.Type,
			record.OfferID,
			record.DealID,
			record.CreatedAt.UTC().Format(time.RFC3339Nano),
			flattenAttributes(record.Attributes),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func flattenAttributes(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, ";")
}
