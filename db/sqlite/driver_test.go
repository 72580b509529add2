package sqlite

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRow struct {
	ID    uint `gorm:"primarykey"`
	Label string
}

func TestOpenMemory_SurvivesConcurrentUse(t *testing.T) {
	gdb, err := OpenMemory()
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&memRow{}))

	// Concurrent writers and readers churn the connection pool. With a
	// per-connection private database one of them would see no tables at
	// all; every operation must land on the same store.
	var wg sync.WaitGroup
	errs := make(chan error, 80)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := gdb.Create(&memRow{Label: fmt.Sprintf("w%d-%d", g, i)}).Error; err != nil {
					errs <- err
					return
				}
				var n int64
				if err := gdb.Model(&memRow{}).Count(&n).Error; err != nil {
					errs <- err
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var total int64
	require.NoError(t, gdb.Model(&memRow{}).Count(&total).Error)
	assert.EqualValues(t, 80, total)
}

func TestOpenMemory_IsolatedPerOpen(t *testing.T) {
	first, err := OpenMemory()
	require.NoError(t, err)
	require.NoError(t, first.AutoMigrate(&memRow{}))
	require.NoError(t, first.Create(&memRow{Label: "only-here"}).Error)

	second, err := OpenMemory()
	require.NoError(t, err)

	var n int64
	assert.Error(t, second.Model(&memRow{}).Count(&n).Error, "second open must not see the first database")
}
