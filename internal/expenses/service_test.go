package expenses

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ServiceTestSuite struct {
	suite.Suite
	db    *db.DB
	redis *miniredis.Miniredis
	svc   *Service
	ctx   context.Context
}

func (suite *ServiceTestSuite) SetupTest() {
	database, err := db.Open(filepath.Join(suite.T().TempDir(), "test.db"))
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), database.InitSchema())
	suite.db = database

	suite.redis = miniredis.RunT(suite.T())
	c, err := cache.NewRedis(suite.redis.Addr(), time.Minute, log.New(io.Discard, "", 0))
	require.NoError(suite.T(), err)

	suite.svc = New(database, c, log.New(io.Discard, "", 0))
	suite.ctx = context.Background()
}

func (suite *ServiceTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (suite *ServiceTestSuite) create(userID, title, amount, category, date string) *schema.Expense {
	e, err := suite.svc.Create(suite.ctx, userID, Input{
		Title:    title,
		Amount:   decimal.RequireFromString(amount),
		Category: category,
		Date:     date,
	})
	require.NoError(suite.T(), err)
	return e
}

func (suite *ServiceTestSuite) TestCreateDefaults() {
	e := suite.create("u1", "Coffee", "3.5", "Food", "")

	assert.Equal(suite.T(), schema.DefaultCurrency, e.Currency)
	require.NotNil(suite.T(), e.SyncedAt)
	assert.True(suite.T(), e.Date.Equal(*e.SyncedAt))
	assert.NotEmpty(suite.T(), e.ID)
}

func (suite *ServiceTestSuite) TestCreateRejectsInvalid() {
	_, err := suite.svc.Create(suite.ctx, "u1", Input{Title: "x", Category: "c", Amount: decimal.NewFromInt(-1)})
	assert.True(suite.T(), errors.Is(err, schema.ErrInvalid))

	_, err = suite.svc.Create(suite.ctx, "u1", Input{Title: "x", Category: "c", Date: "someday"})
	assert.True(suite.T(), errors.Is(err, schema.ErrInvalid))
}

func (suite *ServiceTestSuite) TestGetOwnership() {
	e := suite.create("u1", "Coffee", "3.5", "Food", "")

	_, err := suite.svc.Get(suite.ctx, "u2", e.ID)
	assert.True(suite.T(), errors.Is(err, db.ErrForbidden))

	_, err = suite.svc.Get(suite.ctx, "u1", "missing")
	assert.True(suite.T(), errors.Is(err, db.ErrNotFound))

	got, err := suite.svc.Get(suite.ctx, "u1", e.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Coffee", got.Title)
}

func (suite *ServiceTestSuite) TestUpdatePartial() {
	e := suite.create("u1", "Coffee", "3.5", "Food", "2024-01-10")

	title := "Espresso"
	got, err := suite.svc.Update(suite.ctx, "u1", e.ID, Patch{Title: &title})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "Espresso", got.Title)
	assert.Equal(suite.T(), "Food", got.Category)
	assert.True(suite.T(), decimal.RequireFromString("3.5").Equal(got.Amount))
	assert.Equal(suite.T(), "2024-01-10", got.Date.Format("2006-01-02"))

	empty := ""
	_, err = suite.svc.Update(suite.ctx, "u1", e.ID, Patch{Category: &empty})
	assert.True(suite.T(), errors.Is(err, schema.ErrInvalid))

	_, err = suite.svc.Update(suite.ctx, "u2", e.ID, Patch{Title: &title})
	assert.True(suite.T(), errors.Is(err, db.ErrForbidden))
}

func (suite *ServiceTestSuite) TestCreateNormalizesFields() {
	e, err := suite.svc.Create(suite.ctx, "u1", Input{
		Title:    "  Taxi ",
		Amount:   decimal.RequireFromString("12"),
		Category: " Transport\t",
		Currency: " eur ",
	})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "Taxi", e.Title)
	assert.Equal(suite.T(), "Transport", e.Category)
	assert.Equal(suite.T(), "EUR", e.Currency)

	stored, err := suite.db.GetOwnedExpense(suite.ctx, "u1", e.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "EUR", stored.Currency)
}

func (suite *ServiceTestSuite) TestUpdateNormalizesAndValidatesPatch() {
	e := suite.create("u1", "Coffee", "3.5", "Food", "2024-01-10")

	title, category, currency := " Latte ", " Drinks ", "gbp"
	got, err := suite.svc.Update(suite.ctx, "u1", e.ID, Patch{Title: &title, Category: &category, Currency: &currency})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Latte", got.Title)
	assert.Equal(suite.T(), "Drinks", got.Category)
	assert.Equal(suite.T(), "GBP", got.Currency)

	blank := "   "
	_, err = suite.svc.Update(suite.ctx, "u1", e.ID, Patch{Title: &blank})
	assert.True(suite.T(), errors.Is(err, schema.ErrInvalid), "blank title")
	_, err = suite.svc.Update(suite.ctx, "u1", e.ID, Patch{Category: &blank})
	assert.True(suite.T(), errors.Is(err, schema.ErrInvalid), "blank category")

	long := strings.Repeat("x", schema.MaxTitleLength+1)
	_, err = suite.svc.Update(suite.ctx, "u1", e.ID, Patch{Title: &long})
	assert.True(suite.T(), errors.Is(err, schema.ErrInvalid), "title over the length cap")

	stored, err := suite.db.GetOwnedExpense(suite.ctx, "u1", e.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Latte", stored.Title, "rejected patches leave the record unchanged")
}

func (suite *ServiceTestSuite) TestDelete() {
	e := suite.create("u1", "Coffee", "3.5", "Food", "")

	_, err := suite.svc.Delete(suite.ctx, "u2", e.ID)
	assert.True(suite.T(), errors.Is(err, db.ErrForbidden))

	deleted, err := suite.svc.Delete(suite.ctx, "u1", e.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), e.ID, deleted.ID)

	_, err = suite.svc.Get(suite.ctx, "u1", e.ID)
	assert.True(suite.T(), errors.Is(err, db.ErrNotFound))
}

func (suite *ServiceTestSuite) TestListPagination() {
	for i, day := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"} {
		category := "Food"
		if i%2 == 1 {
			category = "Travel"
		}
		suite.create("u1", "e"+day, "1", category, day)
	}
	suite.create("u2", "other", "1", "Food", "2024-01-01")

	page, err := suite.svc.List(suite.ctx, "u1", Query{Page: 2, Limit: 2})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), Pagination{Page: 2, Limit: 2, Total: 5, TotalPages: 3}, page.Pagination)
	require.Len(suite.T(), page.Expenses, 2)
	assert.Equal(suite.T(), "e2024-01-03", page.Expenses[0].Title)

	food, err := suite.svc.List(suite.ctx, "u1", Query{Category: "Food"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, food.Pagination.Total)
	assert.Equal(suite.T(), DefaultLimit, food.Pagination.Limit)

	ranged, err := suite.svc.List(suite.ctx, "u1", Query{StartDate: "2024-01-02", EndDate: "2024-01-04"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, ranged.Pagination.Total)

	empty, err := suite.svc.List(suite.ctx, "nobody", Query{})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 0, empty.Pagination.TotalPages)
	assert.NotNil(suite.T(), empty.Expenses)
}

func (suite *ServiceTestSuite) TestListRejectsBadPaging() {
	_, err := suite.svc.List(suite.ctx, "u1", Query{Limit: MaxLimit + 1})
	assert.True(suite.T(), errors.Is(err, schema.ErrInvalid))

	_, err = suite.svc.List(suite.ctx, "u1", Query{Page: -1})
	assert.True(suite.T(), errors.Is(err, schema.ErrInvalid))
}

func (suite *ServiceTestSuite) TestSummaryIsCachedAndInvalidated() {
	suite.create("u1", "Bus", "20", "Transport", "2024-01-10")

	first, err := suite.svc.Summary(suite.ctx, "u1", "", "")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, first.TotalCount)
	assert.True(suite.T(), suite.redis.Exists(cache.Key("u1", "summary", "", "")))

	suite.create("u1", "Taxi", "30", "Transport", "2024-01-11")
	assert.False(suite.T(), suite.redis.Exists(cache.Key("u1", "summary", "", "")), "write invalidates")

	second, err := suite.svc.Summary(suite.ctx, "u1", "", "")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, second.TotalCount)
	assert.Equal(suite.T(), "25", second.AverageAmount.String())
}

func TestServiceWithoutCache(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, database.InitSchema())

	svc := New(database, nil, log.New(io.Discard, "", 0))
	_, err = svc.Create(context.Background(), "u1", Input{Title: "x", Amount: decimal.NewFromInt(4), Category: "c"})
	require.NoError(t, err)

	summary, err := svc.Summary(context.Background(), "u1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "4", summary.TotalAmount.String())
}
