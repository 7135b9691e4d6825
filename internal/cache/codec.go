package cache

import (
	"encoding/json"

	platformerrors "github.com/jmgilman/go/errors"

	"iss-tracker-gateway/internal/fetch"
)

// record is the serialized form used by the redis and disk backends.
type record struct {
	Key      string          `json:"key"`
	Response *fetch.Response `json:"response"`
}

func encodeRecord(key string, resp *fetch.Response) ([]byte, error) {
	b, err := json.Marshal(record{Key: key, Response: resp})
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal, "encode cached response")
	}
	return b, nil
}

func decodeRecord(b []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return record{}, platformerrors.Wrap(err, platformerrors.CodeDatabase, "decode cached response")
	}
	if rec.Response == nil {
		return record{}, platformerrors.New(platformerrors.CodeDatabase, "cached record has no response")
	}
	return rec, nil
}
