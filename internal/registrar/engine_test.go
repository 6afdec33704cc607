package registrar

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/logging"
	"github.com/zurustar/sipregistrar/internal/parser"
)

// fakeStore is an in-memory database.BindingStore/GRUUStore good
// enough to drive the Location Service Core's state machine in tests
// without a real sqlite file.
type fakeStore struct {
	mu       sync.Mutex
	bindings map[string]map[string]*database.Binding // aor -> contactURIStr -> binding
	gruu     map[string]*database.GRUUEntry           // aor|instanceID -> entry
	nextTok  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bindings: make(map[string]map[string]*database.Binding),
		gruu:     make(map[string]*database.GRUUEntry),
	}
}

func (f *fakeStore) WithTx(fn func(tx database.BindingTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Snapshot so a failed fn leaves the store untouched (rollback semantics).
	backup := make(map[string]map[string]*database.Binding, len(f.bindings))
	for aor, contacts := range f.bindings {
		inner := make(map[string]*database.Binding, len(contacts))
		for uri, b := range contacts {
			cp := *b
			inner[uri] = &cp
		}
		backup[aor] = inner
	}
	tx := &fakeTx{store: f}
	if err := fn(tx); err != nil {
		f.bindings = backup
		return err
	}
	return nil
}

func (f *fakeStore) ListByAOR(aor string) ([]*database.Binding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.Binding
	for _, b := range f.bindings[aor] {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) GetByContactURI(uri string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for aor, contacts := range f.bindings {
		if _, ok := contacts[uri]; ok {
			return aor, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeStore) FetchOrNone(aor, instanceID string) (*database.GRUUEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.gruu[aor+"|"+instanceID]; ok {
		return e, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateIfNotExists(aor, instanceID string) (*database.GRUUEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aor + "|" + instanceID
	if e, ok := f.gruu[key]; ok {
		return e, nil
	}
	f.nextTok++
	e := &database.GRUUEntry{AOR: aor, InstanceID: instanceID, Token: fmt.Sprintf("tok%d", f.nextTok)}
	f.gruu[key] = e
	return e, nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) Get(aor, contactURIStr string) (*database.Binding, bool, error) {
	contacts := t.store.bindings[aor]
	b, ok := contacts[contactURIStr]
	return b, ok, nil
}

func (t *fakeTx) ListByAOR(aor string) ([]*database.Binding, error) {
	var out []*database.Binding
	for _, b := range t.store.bindings[aor] {
		out = append(out, b)
	}
	return out, nil
}

func (t *fakeTx) Upsert(b *database.Binding) error {
	if t.store.bindings[b.AOR] == nil {
		t.store.bindings[b.AOR] = make(map[string]*database.Binding)
	}
	cp := *b
	t.store.bindings[b.AOR][b.ContactURIStr] = &cp
	return nil
}

func (t *fakeTx) Delete(aor, contactURIStr string) error {
	if contacts, ok := t.store.bindings[aor]; ok {
		delete(contacts, contactURIStr)
	}
	return nil
}

type fakeGRUUFactory struct{}

func (fakeGRUUFactory) MakeURL(aor, instanceID, token, toHeader string) string {
	return aor + ";gr=" + token
}

type fakeOracle struct{ domains map[string]bool }

func (o fakeOracle) IsHomedomain(host string) bool { return o.domains[strings.ToLower(host)] }

type fakeAuth struct {
	outcome AuthOutcome
	user    *database.User
}

func (a fakeAuth) CanRegister(request *parser.SIPMessage, toURI string) (AuthOutcome, *database.User, error) {
	return a.outcome, a.user, nil
}

func (a fakeAuth) Challenge(request *parser.SIPMessage, stale bool) (*parser.SIPMessage, error) {
	resp := parser.NewResponseMessage(parser.StatusUnauthorized, "Unauthorized")
	if stale {
		resp.SetHeader(parser.HeaderWWWAuthenticate, `Digest stale=true`)
	}
	return resp, nil
}

type fakeLogger struct{}

func (fakeLogger) Debug(string, ...logging.Field) {}
func (fakeLogger) Info(string, ...logging.Field)  {}
func (fakeLogger) Warn(string, ...logging.Field)  {}
func (fakeLogger) Error(string, ...logging.Field) {}

type recordingTxn struct {
	responses []*parser.SIPMessage
}

func (r *recordingTxn) SendResponse(resp *parser.SIPMessage) error {
	r.responses = append(r.responses, resp)
	return nil
}

func newTestEngine(store *fakeStore, domain string) *Engine {
	return NewEngine(store, store, fakeGRUUFactory{}, fakeOracle{domains: map[string]bool{domain: true}},
		fakeAuth{outcome: AuthOK, user: &database.User{Username: "alice", Realm: domain, Enabled: true}},
		fakeLogger{}, Config{MaxRegisterTime: 7200, ExperimentalGRUUEnable: true})
}

func registerRequest(to, contact, callID string, cseq uint32, extra map[string]string) *parser.SIPMessage {
	req := parser.NewRequestMessage(parser.MethodREGISTER, to)
	req.SetHeader(parser.HeaderTo, "<"+to+">")
	req.SetHeader(parser.HeaderFrom, "<"+to+">;tag=abc")
	req.SetHeader(parser.HeaderCallID, callID)
	req.SetHeader(parser.HeaderCSeq, fmt.Sprintf("%d REGISTER", cseq))
	if contact != "" {
		req.AddHeader(parser.HeaderContact, contact)
	}
	for k, v := range extra {
		req.SetHeader(k, v)
	}
	return req
}

// S1: unsupported Require extensions yield 420 listing exactly the
// rejected tokens.
func TestProcessRegister_UnsupportedRequire(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	req := registerRequest("sip:alice@example.com", "<sip:alice@1.2.3.4>", "call-1", 1, map[string]string{
		parser.HeaderRequire: "unknown-ext1, unknown-ext2",
	})
	txn := &recordingTxn{}

	handled, err := engine.ProcessRegister(req, txn, "t1", "REGISTER", RoleOutgoingProxy)
	if err != nil || !handled {
		t.Fatalf("ProcessRegister() = %v, %v", handled, err)
	}
	if len(txn.responses) != 1 || txn.responses[0].GetStatusCode() != parser.StatusBadExtension {
		t.Fatalf("expected 420, got %+v", txn.responses)
	}
	unsupported := txn.responses[0].GetHeaders(parser.HeaderUnsupported)
	if len(unsupported) != 2 || unsupported[0] != "unknown-ext1" || unsupported[1] != "unknown-ext2" {
		t.Fatalf("unexpected Unsupported headers: %v", unsupported)
	}
}

// S2: valid wildcard deregisters every dynamic binding at a lower CSeq.
func TestProcessRegister_WildcardDeregistersAll(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	aor := "sip:alice@example.com"
	for i, uri := range []string{"sip:a@1.1.1.1", "sip:a@2.2.2.2", "sip:a@3.3.3.3"} {
		store.bindings[aor] = store.bindings[aor]
		if store.bindings[aor] == nil {
			store.bindings[aor] = make(map[string]*database.Binding)
		}
		store.bindings[aor][uri] = &database.Binding{
			AOR: aor, ContactURI: uri, ContactURIStr: uri, Class: database.ClassDynamic,
			ExpiresAt: time.Now().Add(time.Hour), CallID: "old-call", CSeq: uint32(i + 1),
		}
	}

	req := registerRequest(aor, "*", "new-call", 5, map[string]string{parser.HeaderExpires: "0"})
	txn := &recordingTxn{}
	handled, err := engine.ProcessRegister(req, txn, "t2", "REGISTER", RoleOutgoingProxy)
	if err != nil || !handled {
		t.Fatalf("ProcessRegister() = %v, %v", handled, err)
	}
	if txn.responses[0].GetStatusCode() != parser.StatusOK {
		t.Fatalf("expected 200 OK, got %+v", txn.responses[0])
	}
	if len(store.bindings[aor]) != 0 {
		t.Fatalf("expected store empty, got %v", store.bindings[aor])
	}
}

// S3: wildcard with Expires: 01 is rejected as non-zero.
func TestProcessRegister_WildcardNonZeroExpires(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	req := registerRequest("sip:alice@example.com", "*", "call-1", 1, map[string]string{parser.HeaderExpires: "01"})
	txn := &recordingTxn{}

	if _, err := engine.ProcessRegister(req, txn, "t3", "REGISTER", RoleOutgoingProxy); err != nil {
		t.Fatalf("ProcessRegister() error = %v", err)
	}
	if txn.responses[0].GetStatusCode() != parser.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", txn.responses[0])
	}
}

// S4/S5/S6: CSeq/Call-ID monotonicity and clamping.
func TestProcessRegister_CSeqOrdering(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	aor := "sip:alice@example.com"

	req1 := registerRequest(aor, "<sip:u@1.2.3.4>;expires=20", "call-x", 101, nil)
	txn1 := &recordingTxn{}
	if _, err := engine.ProcessRegister(req1, txn1, "t4", "REGISTER", RoleOutgoingProxy); err != nil {
		t.Fatalf("first register error = %v", err)
	}
	if txn1.responses[0].GetStatusCode() != parser.StatusOK {
		t.Fatalf("expected 200, got %+v", txn1.responses[0])
	}

	// S5: same Call-ID, lower CSeq -> 403, store unchanged.
	req2 := registerRequest(aor, "<sip:u@1.2.3.4>;expires=20", "call-x", 50, nil)
	txn2 := &recordingTxn{}
	if _, err := engine.ProcessRegister(req2, txn2, "t5", "REGISTER", RoleOutgoingProxy); err != nil {
		t.Fatalf("second register error = %v", err)
	}
	if txn2.responses[0].GetStatusCode() != parser.StatusForbidden {
		t.Fatalf("expected 403, got %+v", txn2.responses[0])
	}

	// S6: different Call-ID (UA restart) replaces unconditionally.
	req3 := registerRequest(aor, "<sip:u@1.2.3.4>;expires=40", "call-y", 1, nil)
	txn3 := &recordingTxn{}
	if _, err := engine.ProcessRegister(req3, txn3, "t6", "REGISTER", RoleOutgoingProxy); err != nil {
		t.Fatalf("third register error = %v", err)
	}
	if txn3.responses[0].GetStatusCode() != parser.StatusOK {
		t.Fatalf("expected 200, got %+v", txn3.responses[0])
	}
	b := store.bindings[aor]["sip:u@1.2.3.4"]
	if b.CallID != "call-y" || b.CSeq != 1 {
		t.Fatalf("unexpected binding after replace: %+v", b)
	}
}

// S7: Path header without Supported: path and no override -> 421.
func TestProcessRegister_PathRequiresSupport(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	req := registerRequest("sip:alice@example.com", "<sip:u@1.2.3.4>", "call-1", 1, map[string]string{
		parser.HeaderPath: "<sip:edge.example.org>",
	})
	txn := &recordingTxn{}
	if _, err := engine.ProcessRegister(req, txn, "t7", "REGISTER", RoleOutgoingProxy); err != nil {
		t.Fatalf("ProcessRegister() error = %v", err)
	}
	if txn.responses[0].GetStatusCode() != parser.StatusExtensionRequired {
		t.Fatalf("expected 421, got %+v", txn.responses[0])
	}
	if got := txn.responses[0].GetHeader(parser.HeaderRequire); got != "path" {
		t.Fatalf("expected Require: path, got %q", got)
	}
}

// S8: quoted +sip.instance with Supported: gruu and GRUU enabled emits
// gruu= and Require: gruu.
func TestProcessRegister_GRUUEmission(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	aor := "sip:alice@example.com"
	req := registerRequest(aor, `<sip:u@1.2.3.4>;+sip.instance="<id-1>";expires=60`, "call-1", 1, map[string]string{
		parser.HeaderSupported: "gruu",
	})
	txn := &recordingTxn{}
	if _, err := engine.ProcessRegister(req, txn, "t8", "REGISTER", RoleOutgoingProxy); err != nil {
		t.Fatalf("ProcessRegister() error = %v", err)
	}
	resp := txn.responses[0]
	if resp.GetStatusCode() != parser.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	contacts := resp.GetHeaders(parser.HeaderContact)
	if len(contacts) != 1 || !strings.Contains(contacts[0], `gruu=`) || !strings.Contains(contacts[0], `+sip.instance="<id-1>"`) {
		t.Fatalf("expected gruu contact, got %v", contacts)
	}
	if resp.GetHeader(parser.HeaderRequire) != "gruu" {
		t.Fatalf("expected Require: gruu, got %q", resp.GetHeader(parser.HeaderRequire))
	}
	if _, ok := store.gruu[aor+"|<id-1>"]; !ok {
		t.Fatalf("expected GRUU entry to be created")
	}
}

// Non-homedomain target is left unhandled for the surrounding proxy.
func TestProcessRegister_NotHomedomain(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	req := registerRequest("sip:bob@other.net", "<sip:u@1.2.3.4>", "call-1", 1, nil)
	txn := &recordingTxn{}

	handled, err := engine.ProcessRegister(req, txn, "t9", "REGISTER", RoleOutgoingProxy)
	if err != nil {
		t.Fatalf("ProcessRegister() error = %v", err)
	}
	if handled {
		t.Fatalf("expected handled=false for non-homedomain target")
	}
	if len(txn.responses) != 0 {
		t.Fatalf("expected no response sent, got %v", txn.responses)
	}
}

// Registration query (no Contact headers) reports current bindings
// without mutating the store.
func TestProcessRegister_QueryWithoutContact(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	aor := "sip:alice@example.com"
	store.bindings[aor] = map[string]*database.Binding{
		"sip:u@1.2.3.4": {
			AOR: aor, ContactURI: "sip:u@1.2.3.4", ContactURIStr: "sip:u@1.2.3.4",
			Class: database.ClassDynamic, ExpiresAt: time.Now().Add(30 * time.Minute),
		},
	}
	req := registerRequest(aor, "", "call-1", 1, nil)
	txn := &recordingTxn{}

	if _, err := engine.ProcessRegister(req, txn, "t10", "REGISTER", RoleOutgoingProxy); err != nil {
		t.Fatalf("ProcessRegister() error = %v", err)
	}
	resp := txn.responses[0]
	if resp.GetStatusCode() != parser.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	if len(resp.GetHeaders(parser.HeaderContact)) != 1 {
		t.Fatalf("expected one Contact header, got %v", resp.GetHeaders(parser.HeaderContact))
	}
	if len(store.bindings[aor]) != 1 {
		t.Fatalf("query must not mutate the store")
	}
}

func TestPrioritizeLocations(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	bindings := []*database.Binding{
		{ContactURI: "a", Flags: database.BindingFlags{Priority: 200}},
		{ContactURI: "b", Flags: database.BindingFlags{Priority: 100}},
		{ContactURI: "c", Flags: database.BindingFlags{Priority: 100}},
	}
	out := engine.PrioritizeLocations(bindings)
	if len(out) != 2 {
		t.Fatalf("expected 2 minimum-priority bindings, got %d", len(out))
	}
	for _, b := range out {
		if b.Flags.Priority != 100 {
			t.Fatalf("unexpected binding in result: %+v", b)
		}
	}
}

func TestPrioritizeLocations_NoPriorityReturnsInput(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")
	bindings := []*database.Binding{{ContactURI: "a"}, {ContactURI: "b"}}
	out := engine.PrioritizeLocations(bindings)
	if len(out) != len(bindings) {
		t.Fatalf("expected input unchanged, got %d entries", len(out))
	}
}

// The homedomain check must key off request.uri.host, not the To-header
// AOR's host: a registrar can front several homedomains where the
// Request-URI names the serving domain and the To-URI names a different
// AOR host. A request whose To-URI host is NOT a configured homedomain
// but whose Request-URI host IS must still be handled.
func TestProcessRegister_HomedomainChecksRequestURINotToHeader(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")

	req := parser.NewRequestMessage(parser.MethodREGISTER, "sip:example.com")
	req.SetHeader(parser.HeaderTo, "<sip:alice@other.example>")
	req.SetHeader(parser.HeaderFrom, "<sip:alice@other.example>;tag=abc")
	req.SetHeader(parser.HeaderCallID, "call-uri-1")
	req.SetHeader(parser.HeaderCSeq, "1 REGISTER")
	req.AddHeader(parser.HeaderContact, "<sip:alice@1.2.3.4>")
	txn := &recordingTxn{}

	handled, err := engine.ProcessRegister(req, txn, "t-uri", "REGISTER", RoleOutgoingProxy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handled {
		t.Fatalf("expected handled=true when Request-URI host is a homedomain, regardless of To-header host")
	}
}

// The converse: a Request-URI host that is NOT a homedomain must be
// forwarded (handled=false) even when the To-header names a homedomain
// AOR, proving the check doesn't fall back to the To-header.
func TestProcessRegister_NotHomedomainByRequestURIEvenIfToMatches(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")

	req := parser.NewRequestMessage(parser.MethodREGISTER, "sip:other.example")
	req.SetHeader(parser.HeaderTo, "<sip:alice@example.com>")
	req.SetHeader(parser.HeaderFrom, "<sip:alice@example.com>;tag=abc")
	req.SetHeader(parser.HeaderCallID, "call-uri-2")
	req.SetHeader(parser.HeaderCSeq, "1 REGISTER")
	req.AddHeader(parser.HeaderContact, "<sip:alice@1.2.3.4>")
	txn := &recordingTxn{}

	handled, err := engine.ProcessRegister(req, txn, "t-uri2", "REGISTER", RoleOutgoingProxy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handled {
		t.Fatalf("expected handled=false (forwarded) when Request-URI host is not a homedomain")
	}
	if len(txn.responses) != 0 {
		t.Fatalf("expected no response sent for a forwarded request, got %+v", txn.responses)
	}
}

// Wildcard validation order: spec section 4.2's table checks the three
// Expires-header validations before the "wildcard present but not
// alone" coexistence check. A wildcard contact alongside another
// contact with NO Expires header at all must fail with "without
// Expires header", not the coexistence error.
func TestProcessRegister_WildcardCoexistenceChecksAfterExpires(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")

	req := registerRequest("sip:alice@example.com", "*", "call-order-1", 1, nil)
	req.AddHeader(parser.HeaderContact, "<sip:alice@9.9.9.9>")
	txn := &recordingTxn{}

	handled, err := engine.ProcessRegister(req, txn, "t-order", "REGISTER", RoleOutgoingProxy)
	if err != nil || !handled {
		t.Fatalf("ProcessRegister() = %v, %v", handled, err)
	}
	if len(txn.responses) != 1 || txn.responses[0].GetStatusCode() != parser.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", txn.responses)
	}
	reason := txn.responses[0].GetReasonPhrase()
	if !strings.Contains(reason, "without Expires header") {
		t.Fatalf("expected 'without Expires header' reason (Expires checks run before coexistence check), got %q", reason)
	}
}

// Once an Expires header is present and wildcard-valid (0, single
// value), the coexistence check still fires last and rejects a
// wildcard accompanied by another contact.
func TestProcessRegister_WildcardCoexistenceRejectedAfterValidExpires(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, "example.com")

	req := registerRequest("sip:alice@example.com", "*", "call-order-2", 1, map[string]string{parser.HeaderExpires: "0"})
	req.AddHeader(parser.HeaderContact, "<sip:alice@9.9.9.9>")
	txn := &recordingTxn{}

	handled, err := engine.ProcessRegister(req, txn, "t-order2", "REGISTER", RoleOutgoingProxy)
	if err != nil || !handled {
		t.Fatalf("ProcessRegister() = %v, %v", handled, err)
	}
	if len(txn.responses) != 1 || txn.responses[0].GetStatusCode() != parser.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", txn.responses)
	}
	reason := txn.responses[0].GetReasonPhrase()
	if !strings.Contains(reason, "not alone") {
		t.Fatalf("expected 'not alone' coexistence reason, got %q", reason)
	}
}
