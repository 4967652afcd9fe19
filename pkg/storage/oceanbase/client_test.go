package oceanbase_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recallmem-go/pkg/storage"
	oceanbaseStore "github.com/oceanbase/recallmem-go/pkg/storage/oceanbase"
	"github.com/oceanbase/recallmem-go/pkg/storage/storagetest"
)

func setupOceanBaseTest(t *testing.T) storage.Store {
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("OCEANBASE_PASSWORD")
	if password == "" {
		t.Skip("Skipping OceanBase test: OCEANBASE_PASSWORD not set")
	}
	port, err := strconv.Atoi(getEnv("OCEANBASE_PORT", "2881"))
	if err != nil {
		t.Skipf("Skipping OceanBase test: invalid OCEANBASE_PORT: %v", err)
	}

	store, err := oceanbaseStore.NewClient(&oceanbaseStore.Config{
		Host:               getEnv("OCEANBASE_HOST", "127.0.0.1"),
		Port:               port,
		User:               getEnv("OCEANBASE_USER", "root@sys"),
		Password:           password,
		DBName:             getEnv("OCEANBASE_DATABASE", "recallmem_test"),
		CollectionName:     fmt.Sprintf("test_memories_%d", time.Now().UnixNano()),
		EmbeddingModelDims: storagetest.Dims,
	})
	if err != nil {
		t.Skipf("Skipping OceanBase test: %v", err)
	}
	t.Cleanup(func() {
		_ = store.DropCollection(context.Background())
		_ = store.Close()
	})
	return store
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestOceanBaseClient_Suite(t *testing.T) {
	storagetest.Run(t, setupOceanBaseTest)
}

func TestOceanBaseClient_RequiresDimensions(t *testing.T) {
	_, err := oceanbaseStore.NewClient(&oceanbaseStore.Config{Host: "127.0.0.1", Port: 2881})
	require.Error(t, err)
}
