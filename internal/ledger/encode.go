package ledger

import (
	"encoding/json"
	"fmt"
)

func encodeEntry(e Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode entry: %w", err)
	}
	return b, nil
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("ledger: decode entry: %w", err)
	}
	return e, nil
}
