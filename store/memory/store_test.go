package memory_test

import (
	"testing"

	"github.com/xraph/creditline/store"
	"github.com/xraph/creditline/store/memory"
	"github.com/xraph/creditline/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store {
		return memory.New()
	})
}
