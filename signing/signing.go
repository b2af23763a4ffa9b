// Package signing computes request signatures and sequence ids for the cloud API.
package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// China Standard Time; sequence ids are formatted in the server's zone.
var cst = time.FixedZone("CST", 8*60*60)

// Sign returns hex(SHA256(pathAndQuery + body + appID + appKey + timestamp)).
// body is the JSON-serialized request body or "" when there is none.
func Sign(pathAndQuery, body, appID, appKey string, timestamp int64) string {
	h := sha256.New()
	h.Write([]byte(pathAndQuery))
	h.Write([]byte(body))
	h.Write([]byte(appID))
	h.Write([]byte(appKey))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// SequenceID returns <yyyyMMddHHmmss><6 random digits> for t.
func SequenceID(t time.Time) string {
	return t.In(cst).Format("20060102150405") + fmt.Sprintf("%06d", rand.Intn(1000000))
}
