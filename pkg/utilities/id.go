package utilities

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeMu sync.Mutex
	node   *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// SetSnowflakeNode replaces the process-wide snowflake node.
func SetSnowflakeNode(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	nodeMu.Lock()
	node = n
	nodeMu.Unlock()
	return nil
}

// NewSnowflakeID generates a snowflake ID string. The node is created lazily
// from SNOWFLAKE_NODE (default 1) unless SetSnowflakeNode was called first.
// If the node cannot be initialized it falls back to a KSUID string.
func NewSnowflakeID() string {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if node == nil {
		nodeID := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			nodeID = v
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			return NewKSUID()
		}
		node = n
	}
	return node.Generate().String()
}

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandomHex returns n random bytes encoded as hex.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
