package units

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	units  map[string]Unit
	nextID int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{units: make(map[string]Unit), nextID: 1}
}

func (m *mockRepository) add(code, category string, factor float64) {
	m.units[code] = Unit{ID: m.nextID, Code: code, Name: code, Category: category, Factor: factor}
	m.nextID++
}

func (m *mockRepository) List(ctx context.Context, search string) ([]Unit, error) {
	var out []Unit
	for _, u := range m.units {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockRepository) Get(ctx context.Context, id int64) (Unit, error) {
	for _, u := range m.units {
		if u.ID == id {
			return u, nil
		}
	}
	return Unit{}, ErrNotFound
}

func (m *mockRepository) GetByCode(ctx context.Context, code string) (Unit, error) {
	u, ok := m.units[code]
	if !ok {
		return Unit{}, ErrNotFound
	}
	return u, nil
}

func (m *mockRepository) Create(ctx context.Context, unit Unit) (Unit, error) {
	unit.ID = m.nextID
	m.nextID++
	m.units[unit.Code] = unit
	return unit, nil
}

func (m *mockRepository) Update(ctx context.Context, id int64, unit Unit) error { return nil }
func (m *mockRepository) Delete(ctx context.Context, id int64) error            { return nil }

func newTestService() (*Service, *mockRepository) {
	repo := newMockRepository()
	repo.add("PCE", "Unit", 1)
	repo.add("DZN", "Unit", 12)
	repo.add("KG", "Weight", 1)
	repo.add("G", "Weight", 0.001)
	return NewService(repo), repo
}

func TestConvertSameUnit(t *testing.T) {
	svc, _ := newTestService()

	qty, err := svc.Convert(context.Background(), 7.5, "PCE", "PCE")
	require.NoError(t, err)
	assert.Equal(t, 7.5, qty)
}

func TestConvertWithinCategory(t *testing.T) {
	svc, _ := newTestService()

	qty, err := svc.Convert(context.Background(), 2, "DZN", "PCE")
	require.NoError(t, err)
	assert.InDelta(t, 24, qty, 1e-9)

	qty, err = svc.Convert(context.Background(), 24, "PCE", "DZN")
	require.NoError(t, err)
	assert.InDelta(t, 2, qty, 1e-9)

	qty, err = svc.Convert(context.Background(), 1500, "G", "KG")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, qty, 1e-9)
}

func TestConvertIncompatibleCategories(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Convert(context.Background(), 1, "KG", "PCE")
	require.Error(t, err)

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "KG", convErr.FromCode)
	assert.Equal(t, "PCE", convErr.ToCode)
}

func TestConvertUnknownUnit(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Convert(context.Background(), 1, "PCE", "BOX")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestValidate(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Create(context.Background(), Unit{Code: "BOX", Name: "Box", Category: "Unit", Factor: 0})
	assert.Error(t, err)

	_, err = svc.Create(context.Background(), Unit{Code: "", Name: "Box", Category: "Unit", Factor: 1})
	assert.Error(t, err)

	created, err := svc.Create(context.Background(), Unit{Code: "BOX", Name: "Box", Category: "Unit", Factor: 6})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
}
