package content

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/yanizio/adept-shell/internal/rpc"
	"github.com/yanizio/adept-shell/internal/tenant"
)

type fakeQuerier struct {
	rows  []Item
	err   error
	calls int
}

func (f *fakeQuerier) QueryContentItems(_ context.Context, page, section string) ([]Item, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Item
	for _, r := range f.rows {
		if r.Page == page && r.Section == section {
			out = append(out, r)
		}
	}
	return out, nil
}

type gate bool

func (g gate) Ready() bool { return bool(g) }

func item(tid tenant.ID, pos int, c string) Item {
	raw, _ := json.Marshal(c)
	return Item{Page: "home", Section: "hero", TenantID: tid, Position: pos, Content: raw}
}

func texts(t *testing.T, raws []json.RawMessage) []string {
	t.Helper()
	out := make([]string, len(raws))
	for i, r := range raws {
		if err := json.Unmarshal(r, &out[i]); err != nil {
			t.Fatalf("unmarshal %s: %v", r, err)
		}
	}
	return out
}

func newTestResolver(q Querier, opts ...Option) *Resolver {
	c := rpc.New(nil, rpc.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	return NewResolver(c, q, gate(true), opts...)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		rows   []Item
		active tenant.ID
		want   []string
	}{
		{
			name:   "tenant override wins and is ordered",
			rows:   []Item{item(5, 2, "B"), item(5, 1, "A"), item(0, 1, "X")},
			active: 5,
			want:   []string{"A", "B"},
		},
		{
			name:   "fallback to default tenant",
			rows:   []Item{item(0, 1, "X"), item(0, 2, "Y")},
			active: 7,
			want:   []string{"X", "Y"},
		},
		{
			name:   "no rows",
			rows:   nil,
			active: 7,
			want:   []string{},
		},
		{
			name:   "other tenants ignored",
			rows:   []Item{item(9, 1, "Z"), item(0, 2, "Y"), item(0, 1, "X")},
			active: 7,
			want:   []string{"X", "Y"},
		},
		{
			name:   "only other tenants",
			rows:   []Item{item(9, 1, "Z")},
			active: 7,
			want:   []string{},
		},
		{
			name:   "main site reads default rows",
			rows:   []Item{item(5, 1, "A"), item(0, 1, "X")},
			active: tenant.Default,
			want:   []string{"X"},
		},
		{
			name:   "never merged",
			rows:   []Item{item(5, 3, "C"), item(0, 1, "X"), item(0, 2, "Y")},
			active: 5,
			want:   []string{"C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(&fakeQuerier{rows: tt.rows})
			got, err := r.Resolve(context.Background(), "home", "hero", tt.active)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if s := texts(t, got); !reflect.DeepEqual(s, tt.want) {
				t.Fatalf("Resolve = %v, want %v", s, tt.want)
			}
		})
	}
}

func TestResolve_StableForEqualPositions(t *testing.T) {
	r := newTestResolver(&fakeQuerier{rows: []Item{item(5, 1, "first"), item(5, 1, "second")}})
	got, _ := r.Resolve(context.Background(), "home", "hero", 5)
	if s := texts(t, got); !reflect.DeepEqual(s, []string{"first", "second"}) {
		t.Fatalf("Resolve = %v", s)
	}
}

func TestResolve_NotReady(t *testing.T) {
	q := &fakeQuerier{}
	c := rpc.New(nil)
	r := NewResolver(c, q, gate(false))
	if _, err := r.Resolve(context.Background(), "home", "hero", 1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if q.calls != 0 {
		t.Fatalf("backend queried before ready")
	}
}

func TestResolve_BackendFailureIsEmpty(t *testing.T) {
	q := &fakeQuerier{err: errors.New("down")}
	got, err := newTestResolver(q).Resolve(context.Background(), "home", "hero", 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Resolve = %v, want empty non-nil list", got)
	}
	if q.calls != rpc.DefaultMaxRetries+1 {
		t.Fatalf("calls = %d", q.calls)
	}
}

func TestResolve_Memo(t *testing.T) {
	q := &fakeQuerier{rows: []Item{item(0, 1, "X")}}
	r := newTestResolver(q, WithMemo(8, time.Minute))
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "home", "hero", 3); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if q.calls != 1 {
		t.Fatalf("calls = %d, want 1", q.calls)
	}
}

func TestEffective_DoesNotMutateInput(t *testing.T) {
	rows := []Item{item(5, 2, "B"), item(5, 1, "A")}
	Effective(rows, 5)
	if rows[0].Position != 2 {
		t.Fatalf("input reordered")
	}
}
