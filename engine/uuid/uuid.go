package uuid

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// UUID_LENGTH is length of a UUID
	UUID_LENGTH = 16
	encodeUUID  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_."
)

var uuidEncoding = base64.NewEncoding(encodeUUID).WithPadding(base64.NoPadding)

// GenUUID generates a new unique id of UUID_LENGTH printable bytes
//
// Layout before encoding: 4 bytes unix time, 3 bytes host hash, 2 bytes pid, 3 bytes counter.
func GenUUID() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[:], uint32(time.Now().Unix()))
	copy(b[4:7], machineID)
	pid := os.Getpid()
	b[7] = byte(pid >> 8)
	b[8] = byte(pid)
	i := atomic.AddUint32(&idCounter, 1)
	b[9] = byte(i >> 16)
	b[10] = byte(i >> 8)
	b[11] = byte(i)
	return uuidEncoding.EncodeToString(b[:])
}

// GenFixedUUID generates a deterministic UUID from at most 12 bytes of seed
func GenFixedUUID(seed []byte) string {
	var b [12]byte
	if len(seed) > len(b) {
		seed = seed[:len(b)]
	}
	copy(b[len(b)-len(seed):], seed)
	return uuidEncoding.EncodeToString(b[:])
}

// IsUUID checks that s has the length and alphabet of a generated UUID
func IsUUID(s string) bool {
	if len(s) != UUID_LENGTH {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(encodeUUID, s[i]) < 0 {
			return false
		}
	}
	return true
}

var idCounter uint32

var machineID = readMachineID()

func readMachineID() []byte {
	id := make([]byte, 3)
	hostname, err := os.Hostname()
	if err != nil {
		if _, err2 := io.ReadFull(rand.Reader, id); err2 != nil {
			panic(fmt.Errorf("cannot get hostname: %v; %v", err, err2))
		}
		return id
	}
	sum := md5.Sum([]byte(hostname))
	copy(id, sum[:])
	return id
}
