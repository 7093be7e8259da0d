package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunsForwardsInOrder(t *testing.T) {
	var order []string
	tr := Begin("insert_and_flush")
	tr.Add(func(ctx context.Context) (any, error) {
		order = append(order, "upsert")
		return "upsert-result", nil
	}, func(ctx context.Context, result any) error {
		order = append(order, "rollback-upsert")
		return nil
	})
	tr.Add(func(ctx context.Context) (any, error) {
		order = append(order, "flush")
		return nil, nil
	}, nil)

	results, err := tr.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"upsert", "flush"}, order)
	assert.Equal(t, "upsert-result", results[0])
}

func TestExecuteRollsBackInReverseOnFailure(t *testing.T) {
	var rolledBack []string

	tr := Begin("provision_tenant")
	tr.Add(func(ctx context.Context) (any, error) {
		return "user-1", nil
	}, func(ctx context.Context, result any) error {
		rolledBack = append(rolledBack, "drop_user:"+result.(string))
		return nil
	})
	tr.Add(func(ctx context.Context) (any, error) {
		return "role-1", nil
	}, func(ctx context.Context, result any) error {
		rolledBack = append(rolledBack, "drop_role:"+result.(string))
		return nil
	})
	tr.Add(func(ctx context.Context) (any, error) {
		return nil, errors.New("grant failed")
	}, func(ctx context.Context, result any) error {
		rolledBack = append(rolledBack, "should-not-run")
		return nil
	})

	_, err := tr.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grant failed")
	assert.Equal(t, []string{"drop_role:role-1", "drop_user:user-1"}, rolledBack)
}

func TestScopedDiscardsWithoutExecute(t *testing.T) {
	ran := false
	err := Scoped(context.Background(), "noop", func(ctx context.Context, tr *Transaction) error {
		tr.Add(func(ctx context.Context) (any, error) {
			ran = true
			return nil, nil
		}, nil)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran, "forward function must not run unless Execute is called")
}

func TestRollbackErrorsAreAggregatedNotSwallowed(t *testing.T) {
	tr := Begin("multi_fail")
	tr.Add(func(ctx context.Context) (any, error) {
		return "a", nil
	}, func(ctx context.Context, result any) error {
		return errors.New("rollback boom")
	})
	tr.Add(func(ctx context.Context) (any, error) {
		return nil, errors.New("second op failed")
	}, nil)

	_, err := tr.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second op failed")
	assert.Contains(t, err.Error(), "rollback boom")
}
