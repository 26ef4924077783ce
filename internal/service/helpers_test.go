package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"forwardwatch/toolkit/internal/domain"
)

// fakeActions 是 AccountActions 的有状态假实现，
// 记录每个身份上发生的调用，支持按身份注入错误。
type fakeActions struct {
	mu sync.Mutex

	identities map[string]domain.Identity
	markers    map[string]time.Time
	calls      map[string][]string // identityID -> 操作序列
	failOn     map[string]error    // "identityID/op" -> 注入的错误

	forwardingRules map[string]int // identityID -> 待摘除的规则数
}

func newFakeActions() *fakeActions {
	return &fakeActions{
		identities:      make(map[string]domain.Identity),
		markers:         make(map[string]time.Time),
		calls:           make(map[string][]string),
		failOn:          make(map[string]error),
		forwardingRules: make(map[string]int),
	}
}

func (f *fakeActions) addIdentity(id string, enabled bool) {
	f.identities[id] = domain.Identity{ID: id, UserPrincipalName: id + "@contoso.test", AccountEnabled: enabled}
}

func (f *fakeActions) record(id, op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id] = append(f.calls[id], op)
	return f.failOn[id+"/"+op]
}

func (f *fakeActions) callCount(id, op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls[id] {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeActions) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ops := range f.calls {
		n += len(ops)
	}
	return n
}

func (f *fakeActions) GetIdentity(_ context.Context, id string) (*domain.Identity, error) {
	if err := f.record(id, "get"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.identities[id]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return &identity, nil
}

func (f *fakeActions) BlockSignIn(_ context.Context, id string) error {
	return f.record(id, "block")
}

func (f *fakeActions) UnblockSignIn(_ context.Context, id string) error {
	return f.record(id, "unblock")
}

func (f *fakeActions) RevokeSessions(_ context.Context, id string) error {
	return f.record(id, "revoke")
}

func (f *fakeActions) ResetPassword(_ context.Context, id string) (string, error) {
	if err := f.record(id, "reset-password"); err != nil {
		return "", err
	}
	return "N3w-P@ssw0rd", nil
}

func (f *fakeActions) SetProtocols(_ context.Context, id string, enabled bool) error {
	if enabled {
		return f.record(id, "protocols-on")
	}
	return f.record(id, "protocols-off")
}

func (f *fakeActions) EnableMfa(_ context.Context, id string) error {
	return f.record(id, "mfa")
}

func (f *fakeActions) SetDisableMarker(_ context.Context, id string, marker *time.Time) error {
	op := "set-marker"
	if marker == nil {
		op = "clear-marker"
	}
	if err := f.record(id, op); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if marker == nil {
		delete(f.markers, id)
	} else {
		f.markers[id] = *marker
	}
	return nil
}

func (f *fakeActions) GetDisableMarker(_ context.Context, id string) (*time.Time, error) {
	if err := f.record(id, "get-marker"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	marker, ok := f.markers[id]
	if !ok {
		return nil, nil
	}
	return &marker, nil
}

func (f *fakeActions) RemoveForwarding(_ context.Context, id string) (int, error) {
	if err := f.record(id, "remove-forwarding"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.forwardingRules[id]
	f.forwardingRules[id] = 0
	return n, nil
}

// fakeEnumerator 是 MailboxEnumerator 的固定返回值假实现。
type fakeEnumerator struct {
	observations []domain.ObservedForward
	blocked      []domain.Identity
	err          error
}

func (f *fakeEnumerator) ListForwardingMailboxes(context.Context) ([]domain.ObservedForward, error) {
	return f.observations, f.err
}

func (f *fakeEnumerator) ListSignInBlockedIdentities(context.Context) ([]domain.Identity, error) {
	return f.blocked, f.err
}

func guidN(n byte) uuid.UUID {
	var raw [16]byte
	raw[15] = n
	return uuid.UUID(raw)
}

func testRecord(n byte, address string, seen time.Time) domain.ForwardingRecord {
	return domain.ForwardingRecord{
		Name:              "user" + string(rune('a'+n)),
		Guid:              guidN(n),
		ForwardingAddress: address,
		FirstSeen:         seen,
		LastSeen:          seen,
	}
}
