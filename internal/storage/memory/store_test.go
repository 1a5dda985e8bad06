package memory_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"passgate/internal/storage"
	"passgate/internal/storage/memory"
	"passgate/internal/storage/storetest"
)

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		Open: func(*testing.T) storage.Tx { return memory.New() },
	})
}
