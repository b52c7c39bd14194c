package db

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

const (
	minDBCounts uint64 = 1
	maxDBCounts uint64 = 128
)

func dbCountsPreCheck(dbCounts uint64) uint64 {
	if dbCounts < minDBCounts {
		return minDBCounts
	}
	if dbCounts > maxDBCounts {
		return maxDBCounts
	}
	return dbCounts
}

// dbIndex picks the shard that holds key.
func dbIndex(key []byte, dbCounts uint64) uint64 {
	if dbCounts == minDBCounts {
		return 0
	}
	return uint64(murmur3.Sum32(key)) % dbCounts
}

func genDbName(name string, index uint64) string {
	if index == 0 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, index)
}

func genStatsKey(key string, index uint64) string {
	return fmt.Sprintf("%s_%d", key, index)
}
