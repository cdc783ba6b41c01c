package warehouse

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("connection reset")

	t.Run("typed errors unwrap to their sentinel", func(t *testing.T) {
		require.ErrorIs(t, InvalidRange{Index: -1}, ErrInvalidRange)
		require.ErrorIs(t, TableNotFound{Table: "t"}, ErrTableNotFound)
		require.ErrorIs(t, SchemaMismatch{Table: "t", Column: "c"}, ErrSchemaMismatch)
		require.ErrorIs(t, DataTypeMismatch{Column: "c", Value: "x", Target: "float32"}, ErrDataTypeMismatch)
		require.ErrorIs(t, SourceError("t", cause), ErrTransientSourceError)
		require.ErrorIs(t, SinkError("t", cause), ErrTransientSinkError)
	})

	t.Run("causes stay reachable", func(t *testing.T) {
		err := fmt.Errorf("reading chunk: %w", SourceError("train_10k", cause))
		require.ErrorIs(t, err, cause)
		require.ErrorIs(t, TableNotFound{Table: "t", Err: cause}, cause)
	})

	t.Run("only transient failures are retryable", func(t *testing.T) {
		require.True(t, IsRetryable(SourceError("t", cause)))
		require.True(t, IsRetryable(fmt.Errorf("wrapped: %w", SinkError("t", cause))))

		require.False(t, IsRetryable(InvalidRange{}))
		require.False(t, IsRetryable(TableNotFound{Table: "t"}))
		require.False(t, IsRetryable(SchemaMismatch{}))
		require.False(t, IsRetryable(DataTypeMismatch{}))
		require.False(t, IsRetryable(context.Canceled))
	})

	t.Run("a type mismatch names column, value and target", func(t *testing.T) {
		msg := DataTypeMismatch{Column: "fare_amount", Value: "abc", Target: "float32"}.Error()
		require.Contains(t, msg, "fare_amount")
		require.Contains(t, msg, `"abc"`)
		require.Contains(t, msg, "float32")
	})
}

func TestIdentifiers(t *testing.T) {
	require.NoError(t, ValidateIdentifier("train_10k"))
	require.NoError(t, ValidateIdentifier("taxi-fare-project"))
	require.Error(t, ValidateIdentifier(""))
	require.Error(t, ValidateIdentifier("train; DROP TABLE x"))
	require.Error(t, ValidateIdentifier("a.b"))

	require.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
	require.Equal(t, ` ORDER BY "key", "fare_amount"`, OrderClause([]string{"key", "fare_amount"}, QuoteIdent))
	require.Equal(t, "", OrderClause(nil, QuoteIdent))
	require.Equal(t, "*", SelectList(nil, QuoteIdent))
	require.Equal(t, `"a", "b"`, SelectList([]string{"a", "b"}, QuoteIdent))
}
