// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/ipimonitor/ipi-api/internal/remote"
)

// Fake keeps tables as JSON objects and applies filters the way PostgREST does
// for the operators the app uses. Auth is scripted through the exported fields.
type Fake struct {
	mu     sync.Mutex
	tables map[string][]map[string]interface{}
	seq    map[string]int64
	subs   map[int]fakeSub
	nextID int

	// Err, when set, is returned by every data call
	Err error
	// QueryHook runs before each Query with the query issued
	QueryHook func(remote.Query)
	Queries   []remote.Query

	// Accounts maps email to password for SignIn
	Accounts map[string]string
	// Users maps email to the identity returned on sign-in
	Users      map[string]remote.User
	SignUpErr  error
	SetErr     error
	UpdateErr  error
	ResetCalls []string
	Passwords  []string

	session   *remote.Session
	listeners map[int]func(remote.AuthEvent, *remote.Session)
	closed    bool
	now       func() time.Time
}

type fakeSub struct {
	table   string
	filter  *remote.Filter
	handler func(remote.ChangeEvent)
}

// Primary keys assigned on insert when missing
var serial = map[string]string{
	"app_user":         "user_id",
	"measurement_data": "measurement_sk",
}

func New() *Fake {
	return &Fake{
		tables:    make(map[string][]map[string]interface{}),
		seq:       make(map[string]int64),
		subs:      make(map[int]fakeSub),
		listeners: make(map[int]func(remote.AuthEvent, *remote.Session)),
		Accounts:  make(map[string]string),
		Users:     make(map[string]remote.User),
		now:       time.Now,
	}
}

// Seed adds rows to table without emitting change events
func (f *Fake) Seed(table string, rows ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		m := toMap(r)
		f.assignKey(table, m)
		f.tables[table] = append(f.tables[table], m)
	}
}

// Rows returns a copy of table's rows
func (f *Fake) Rows(table string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, len(f.tables[table]))
	copy(out, f.tables[table])
	return out
}

// Subscribers counts active subscriptions on table
func (f *Fake) Subscribers(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.table == table {
			n++
		}
	}
	return n
}

// Emit pushes a change event to matching subscribers
func (f *Fake) Emit(table string, kind remote.ChangeType, record interface{}) {
	raw, _ := json.Marshal(record)
	f.emit(remote.ChangeEvent{Type: kind, Table: table, Record: raw, At: f.now()})
}

func (f *Fake) emit(ev remote.ChangeEvent) {
	f.mu.Lock()
	var handlers []func(remote.ChangeEvent)
	for _, s := range f.subs {
		if s.table != ev.Table {
			continue
		}
		if s.filter != nil && !recordMatches(ev.Record, *s.filter) && !recordMatches(ev.OldRecord, *s.filter) {
			continue
		}
		handlers = append(handlers, s.handler)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func recordMatches(raw json.RawMessage, filter remote.Filter) bool {
	if len(raw) == 0 {
		return false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return match(m, filter)
}

func toMap(v interface{}) map[string]interface{} {
	raw, _ := json.Marshal(v)
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func (f *Fake) assignKey(table string, m map[string]interface{}) {
	key, ok := serial[table]
	if !ok {
		return
	}
	if v, ok := m[key].(float64); ok && v != 0 {
		return
	}
	f.seq[table]++
	m[key] = float64(f.seq[table])
}

func decode(rows []map[string]interface{}, dest interface{}) error {
	if dest == nil {
		return nil
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func compare(a interface{}, b interface{}) (int, bool) {
	switch bv := b.(type) {
	case time.Time:
		s, ok := a.(string)
		if !ok {
			return 0, false
		}
		at, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, false
		}
		return at.Compare(bv), true
	case int, int64, float64:
		af, ok := a.(float64)
		if !ok {
			return 0, false
		}
		bf := reflect.ValueOf(bv).Convert(reflect.TypeOf(float64(0))).Float()
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	default:
		if as, ok := a.(string); ok {
			if bs, ok := b.(string); ok {
				at, errA := time.Parse(time.RFC3339Nano, as)
				bt, errB := time.Parse(time.RFC3339Nano, bs)
				if errA == nil && errB == nil {
					return at.Compare(bt), true
				}
			}
		}
		as := remote.FormatValue(a)
		bs := remote.FormatValue(b)
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		}
		return 0, true
	}
}

func match(row map[string]interface{}, filter remote.Filter) bool {
	c, ok := compare(row[filter.Column], filter.Value)
	if !ok {
		return false
	}
	switch filter.Op {
	case remote.OpEq:
		return c == 0
	case remote.OpGt:
		return c > 0
	case remote.OpGte:
		return c >= 0
	case remote.OpLt:
		return c < 0
	case remote.OpLte:
		return c <= 0
	}
	return false
}

func (f *Fake) selectRows(q remote.Query) []int {
	var idx []int
	for i, row := range f.tables[q.Table] {
		ok := true
		for _, filter := range q.Filters {
			if !match(row, filter) {
				ok = false
				break
			}
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

func (f *Fake) Query(_ context.Context, q remote.Query, dest interface{}) error {
	if f.QueryHook != nil {
		f.QueryHook(q)
	}
	f.mu.Lock()
	f.Queries = append(f.Queries, q)
	if f.Err != nil {
		f.mu.Unlock()
		return f.Err
	}
	var rows []map[string]interface{}
	for _, i := range f.selectRows(q) {
		rows = append(rows, f.tables[q.Table][i])
	}
	f.mu.Unlock()

	if q.Order != nil {
		col, asc := q.Order.Column, q.Order.Ascending
		sort.SliceStable(rows, func(i, j int) bool {
			c, _ := compare(rows[i][col], rows[j][col])
			if asc {
				return c < 0
			}
			return c > 0
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return decode(rows, dest)
}

func (f *Fake) Insert(_ context.Context, table string, rows interface{}, dest interface{}) error {
	f.mu.Lock()
	if f.Err != nil {
		f.mu.Unlock()
		return f.Err
	}
	var items []map[string]interface{}
	v := reflect.ValueOf(rows)
	if v.Kind() == reflect.Slice {
		for i := 0; i < v.Len(); i++ {
			items = append(items, toMap(v.Index(i).Interface()))
		}
	} else {
		items = append(items, toMap(rows))
	}
	now := f.now().UTC().Format(time.RFC3339Nano)
	for _, m := range items {
		f.assignKey(table, m)
		if _, ok := m["created_at"]; !ok {
			m["created_at"] = now
		}
		f.tables[table] = append(f.tables[table], m)
	}
	f.mu.Unlock()

	for _, m := range items {
		f.Emit(table, remote.ChangeInsert, m)
	}
	return decode(items, dest)
}

func (f *Fake) Update(_ context.Context, q remote.Query, patch map[string]interface{}, dest interface{}) error {
	f.mu.Lock()
	if f.Err != nil {
		f.mu.Unlock()
		return f.Err
	}
	patched := toMap(patch)
	patched["updated_at"] = f.now().UTC().Format(time.RFC3339Nano)
	var out []map[string]interface{}
	for _, i := range f.selectRows(q) {
		row := f.tables[q.Table][i]
		for k, v := range patched {
			row[k] = v
		}
		out = append(out, row)
	}
	f.mu.Unlock()

	for _, m := range out {
		f.Emit(q.Table, remote.ChangeUpdate, m)
	}
	return decode(out, dest)
}

func (f *Fake) Delete(_ context.Context, q remote.Query) error {
	f.mu.Lock()
	if f.Err != nil {
		f.mu.Unlock()
		return f.Err
	}
	if len(q.Filters) == 0 {
		f.mu.Unlock()
		return fmt.Errorf("delete on %s requires a filter", q.Table)
	}
	drop := map[int]bool{}
	for _, i := range f.selectRows(q) {
		drop[i] = true
	}
	var keep, removed []map[string]interface{}
	for i, row := range f.tables[q.Table] {
		if drop[i] {
			removed = append(removed, row)
		} else {
			keep = append(keep, row)
		}
	}
	f.tables[q.Table] = keep
	f.mu.Unlock()

	for _, m := range removed {
		raw, _ := json.Marshal(m)
		f.emit(remote.ChangeEvent{Type: remote.ChangeDelete, Table: q.Table, OldRecord: raw, At: f.now()})
	}
	return nil
}

func (f *Fake) Subscribe(_ context.Context, table string, filter *remote.Filter, handler func(remote.ChangeEvent)) (remote.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fakeSub{table: table, filter: filter, handler: handler}

	var once sync.Once
	return remote.SubscriptionFunc(func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}), nil
}

// SetCurrent installs a session directly
func (f *Fake) SetCurrent(s *remote.Session) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
}

func (f *Fake) notify(event remote.AuthEvent, s *remote.Session) {
	f.mu.Lock()
	f.session = s
	if event == remote.EventSignedOut {
		f.session = nil
	}
	var fns []func(remote.AuthEvent, *remote.Session)
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(event, s)
	}
}

func (f *Fake) sessionFor(u remote.User) *remote.Session {
	return &remote.Session{
		AccessToken:  "access-" + u.ID,
		RefreshToken: "refresh-" + u.ID,
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    f.now().Add(time.Hour).Unix(),
		User:         u,
	}
}

func (f *Fake) SignIn(_ context.Context, email, password string) (*remote.Session, error) {
	f.mu.Lock()
	pw, ok := f.Accounts[email]
	u := f.Users[email]
	f.mu.Unlock()
	if !ok || pw != password {
		return nil, &remote.Error{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	if u.ID == "" {
		u = remote.User{ID: "user-" + email, Email: email}
	}
	s := f.sessionFor(u)
	f.notify(remote.EventSignedIn, s)
	return s, nil
}

func (f *Fake) SignUp(_ context.Context, email, password string, metadata map[string]interface{}) (*remote.User, *remote.Session, error) {
	if f.SignUpErr != nil {
		return nil, nil, f.SignUpErr
	}
	f.mu.Lock()
	if _, exists := f.Accounts[email]; exists {
		f.mu.Unlock()
		return nil, nil, &remote.Error{Status: 422, Code: "user_already_exists", Message: "User already registered"}
	}
	u := remote.User{ID: fmt.Sprintf("user-%d", len(f.Accounts)+1), Email: email, UserMetadata: metadata}
	f.Accounts[email] = password
	f.Users[email] = u
	f.mu.Unlock()

	s := f.sessionFor(u)
	f.notify(remote.EventSignedIn, s)
	return &u, s, nil
}

func (f *Fake) SignOut(context.Context) error {
	f.notify(remote.EventSignedOut, nil)
	return nil
}

func (f *Fake) GetSession(context.Context) (*remote.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *Fake) SetSession(_ context.Context, accessToken, refreshToken string) (*remote.Session, error) {
	if f.SetErr != nil {
		return nil, f.SetErr
	}
	if accessToken == "" || refreshToken == "" {
		return nil, &remote.Error{Status: 400, Message: "access token and refresh token are required"}
	}
	f.mu.Lock()
	var u remote.User
	for _, candidate := range f.Users {
		if "access-"+candidate.ID == accessToken {
			u = candidate
		}
	}
	f.mu.Unlock()
	if u.ID == "" {
		u = remote.User{ID: "recovered", Email: "recovered@example.com"}
	}
	s := f.sessionFor(u)
	s.AccessToken, s.RefreshToken = accessToken, refreshToken
	f.notify(remote.EventSignedIn, s)
	return s, nil
}

func (f *Fake) ResetPasswordForEmail(_ context.Context, email, redirectURL string) error {
	f.mu.Lock()
	f.ResetCalls = append(f.ResetCalls, email+" "+redirectURL)
	f.mu.Unlock()
	return nil
}

func (f *Fake) UpdatePassword(_ context.Context, newPassword string) error {
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.mu.Lock()
	s := f.session
	f.Passwords = append(f.Passwords, newPassword)
	f.mu.Unlock()
	if s == nil {
		return remote.ErrNoSession
	}
	f.notify(remote.EventUserUpdated, s)
	return nil
}

func (f *Fake) NotifyRecovery() {
	f.mu.Lock()
	s := f.session
	f.mu.Unlock()
	if s != nil {
		f.notify(remote.EventPasswordRecovery, s)
	}
}

// RefreshTokens simulates a background token refresh
func (f *Fake) RefreshTokens(access, refresh string) {
	f.mu.Lock()
	s := *f.session
	f.mu.Unlock()
	s.AccessToken, s.RefreshToken = access, refresh
	f.notify(remote.EventTokenRefreshed, &s)
}

func (f *Fake) OnAuthStateChange(fn func(remote.AuthEvent, *remote.Session)) remote.Subscription {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return remote.SubscriptionFunc(func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	})
}

// Closed reports whether Close was called
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

var _ remote.Client = (*Fake)(nil)
