package failure

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.NoError(t, Network("get", nil))
	})

	t.Run("typed", func(t *testing.T) {
		err := Process("link", errors.New("exit 1"))
		require.Error(t, err)
		assert.Equal(t, "process: link: exit 1", err.Error())
		assert.Equal(t, KindProcess, KindOf(err))
	})

	t.Run("keeps innermost kind", func(t *testing.T) {
		inner := Filesystem("create file", os.ErrExist)
		err := Archive("extract", inner)
		assert.Equal(t, KindFilesystem, KindOf(err))
		assert.ErrorIs(t, err, os.ErrExist)
		assert.Equal(t, "extract: filesystem: create file: file already exists", err.Error())
	})

	t.Run("through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("can't configure: %w", Network("get", errors.New("timeout")))
		assert.Equal(t, KindNetwork, KindOf(err))
	})

	t.Run("untyped", func(t *testing.T) {
		assert.Equal(t, KindUnknown, KindOf(errors.New("blah")))
	})
}

func TestRetryable(t *testing.T) {
	tbl := []struct {
		kind Kind
		exp  bool
	}{
		{KindNetwork, true},
		{KindArchive, false},
		{KindProcess, false},
		{KindFilesystem, false},
		{KindConfig, false},
		{KindUnknown, false},
	}
	for _, tt := range tbl {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.exp, Retryable(tt.kind))
		})
	}
}

func TestKinds(t *testing.T) {
	assert.Equal(t, 5, Kinds.Len())
	k := Kinds.Parse("archive")
	require.NotNil(t, k)
	assert.Equal(t, KindArchive, *k)
	assert.Nil(t, Kinds.Parse("blah"))
}
