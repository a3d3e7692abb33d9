package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
)

func TestStoreSearch(t *testing.T) {
	t.Run("Should read documents with their provenance", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		require.NoError(t, err)
		defer db.Close()

		rows := sqlmock.NewRows([]string{"document", "cmetadata", "similarity"}).
			AddRow("부가가치세 세율은 10%", []byte(`{"source":"vat.pdf","page":3}`), 0.91).
			AddRow("소득세", []byte(`{"source":"income.pdf"}`), 0.72).
			AddRow(nil, nil, 0.5)
		mock.ExpectQuery("SELECT e.document").
			WithArgs("langgraph_examples", sqlmock.AnyArg(), 3).
			WillReturnRows(rows)

		docs, err := NewStore(db, "langgraph_examples").Search(context.Background(), []float32{0.1, 0.2}, 3)

		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, model.Document{Content: "부가가치세 세율은 10%", Source: "vat.pdf", Page: 3, Similarity: 0.91}, docs[0])
		assert.Equal(t, 0, docs[1].Page)
		assert.Equal(t, "", docs[2].Content)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should default k to ten", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("ORDER BY e.embedding <=> \\$2").
			WithArgs("c", sqlmock.AnyArg(), 10).
			WillReturnRows(sqlmock.NewRows([]string{"document", "cmetadata", "similarity"}))

		docs, err := NewStore(db, "c").Search(context.Background(), []float32{1}, 0)

		require.NoError(t, err)
		assert.Empty(t, docs)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should reject an empty embedding", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewStore(db, "c").Search(context.Background(), nil, 1)
		assert.Error(t, err)
	})
}

type embedFunc func(ctx context.Context, q string) ([]float32, error)

func (f embedFunc) EmbedQuery(ctx context.Context, q string) ([]float32, error) { return f(ctx, q) }

type searchFunc func(ctx context.Context, e []float32, k int) ([]model.Document, error)

func (f searchFunc) Search(ctx context.Context, e []float32, k int) ([]model.Document, error) {
	return f(ctx, e, k)
}

func TestRetriever(t *testing.T) {
	t.Run("Should embed then search", func(t *testing.T) {
		r := NewRetriever(
			embedFunc(func(_ context.Context, q string) ([]float32, error) {
				assert.Equal(t, "세율", q)
				return []float32{0.5}, nil
			}),
			searchFunc(func(ctx context.Context, e []float32, k int) ([]model.Document, error) {
				_, hasDeadline := ctx.Deadline()
				assert.True(t, hasDeadline)
				assert.Equal(t, []float32{0.5}, e)
				return []model.Document{{Content: "doc"}}, nil
			}),
			time.Second,
		)

		docs, err := r.Retrieve(context.Background(), "세율", 10)

		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("Should classify failures as external service errors", func(t *testing.T) {
		r := NewRetriever(
			embedFunc(func(context.Context, string) ([]float32, error) { return nil, errors.New("quota") }),
			searchFunc(func(context.Context, []float32, int) ([]model.Document, error) { return nil, nil }),
			0,
		)

		_, err := r.Retrieve(context.Background(), "q", 10)

		assert.True(t, errx.IsKind(err, errx.KindExternalService))
	})
}
