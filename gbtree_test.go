package gbtree

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"
)

// openTestDB opens an in-memory database; mod may adjust the options.
func openTestDB(t *testing.T, mod func(*Options)) *DB {
	t.Helper()
	opts := DefaultOptions()
	if mod != nil {
		mod(&opts)
	}
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func openCursor(t *testing.T, db *DB) *Cursor {
	t.Helper()
	c, err := db.OpenCursor()
	if err != nil {
		t.Fatalf("OpenCursor failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func mustInsert(t *testing.T, db *DB, key, rec string, flags uint) {
	t.Helper()
	if err := db.Insert([]byte(key), []byte(rec), flags); err != nil {
		t.Fatalf("Insert(%q, %q) failed: %v", key, rec, err)
	}
}

// current returns the key and record at the cursor.
func current(t *testing.T, c *Cursor) (string, string) {
	t.Helper()
	k, v, err := c.ReadCurrent(true, true)
	if err != nil {
		t.Fatalf("ReadCurrent failed: %v", err)
	}
	return string(k), string(v)
}

type pair struct {
	key, rec string
}

// walk collects every pair from dir (MoveFirst or MoveLast) onwards.
func walk(t *testing.T, c *Cursor, dir Direction, opts MoveOptions) []pair {
	t.Helper()
	step := MoveNext
	if dir == MoveLast {
		step = MovePrevious
	}
	var out []pair
	k, v, err := c.MoveTo(dir, opts)
	for err == nil {
		out = append(out, pair{string(k), string(v)})
		k, v, err = c.MoveTo(step, opts)
	}
	if !IsNotFound(err) {
		t.Fatalf("walk stopped with %v", err)
	}
	return out
}

func TestOpenClose(t *testing.T) {
	db, err := Open(DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// second close is a no-op
	if err := db.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestOpenInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.PageCapacity = 2
	if _, err := Open(opts); Code(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}

	opts = DefaultOptions()
	opts.Backend = BackendBolt
	opts.BlobBackend = BlobFile
	if _, err := Open(opts); Code(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter for missing path, got %v", err)
	}
}

func TestInsertFindRecordSizes(t *testing.T) {
	db := openTestDB(t, nil)

	records := map[string][]byte{
		"empty":  {},
		"tiny":   []byte("abc"),
		"seven":  []byte("1234567"),
		"small":  []byte("12345678"),
		"normal": bytes.Repeat([]byte("x"), 100),
	}
	for k, v := range records {
		if err := db.Insert([]byte(k), v, 0); err != nil {
			t.Fatalf("Insert %s failed: %v", k, err)
		}
	}
	for k, want := range records {
		got, err := db.Find([]byte(k))
		if err != nil {
			t.Fatalf("Find %s failed: %v", k, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Find %s: got %q, want %q", k, got, want)
		}
	}

	c := openCursor(t, db)
	for k, want := range records {
		if err := c.Find([]byte(k)); err != nil {
			t.Fatalf("cursor Find %s failed: %v", k, err)
		}
		size, err := c.RecordSize()
		if err != nil {
			t.Fatalf("RecordSize %s failed: %v", k, err)
		}
		if size != uint64(len(want)) {
			t.Errorf("RecordSize %s: got %d, want %d", k, size, len(want))
		}
	}

	if _, err := db.Find([]byte("missing")); !IsNotFound(err) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestInsertExistingKey(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "k", "v1", 0)

	if err := db.Insert([]byte("k"), []byte("v2"), 0); !IsKeyExists(err) {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
	mustInsert(t, db, "k", "v2", Overwrite)
	got, err := db.Find([]byte("k"))
	if err != nil || string(got) != "v2" {
		t.Fatalf("Find after overwrite: %q, %v", got, err)
	}
	if err := db.Insert([]byte("k"), []byte("v3"), Overwrite|Duplicate); Code(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestDuplicatesNeedOption(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.Duplicates = false })
	mustInsert(t, db, "k", "v1", 0)
	if err := db.Insert([]byte("k"), []byte("v2"), Duplicate); Code(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestKeyTooLarge(t *testing.T) {
	db := openTestDB(t, nil)
	key := make([]byte, MaxKeySize+1)
	if err := db.Insert(key, nil, 0); Code(err) != ErrLimitsReached {
		t.Fatalf("expected ErrLimitsReached, got %v", err)
	}
}

func TestEmptyTreeFirst(t *testing.T) {
	db := openTestDB(t, nil)
	c := openCursor(t, db)

	if err := c.Move(MoveFirst, 0); !IsNotFound(err) {
		t.Fatalf("MoveFirst on empty tree: expected ErrKeyNotFound, got %v", err)
	}
	if !c.IsNil() {
		t.Fatal("cursor should be nil")
	}
	if err := c.Move(MoveLast, 0); !IsNotFound(err) {
		t.Fatalf("MoveLast on empty tree: expected ErrKeyNotFound, got %v", err)
	}
}

func TestDuplicateLast(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "K1", "R1", 0)
	mustInsert(t, db, "K1", "R2", Duplicate)

	c := openCursor(t, db)
	if err := c.Find([]byte("K1")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	n, err := c.DuplicateCount()
	if err != nil || n != 2 {
		t.Fatalf("DuplicateCount: got %d, %v; want 2", n, err)
	}

	k, v, err := c.MoveTo(MoveLast, 0)
	if err != nil {
		t.Fatalf("MoveLast failed: %v", err)
	}
	if string(k) != "K1" || string(v) != "R2" || c.DuplicateIndex() != 1 {
		t.Fatalf("MoveLast: got %s=%s dup %d; want K1=R2 dup 1", k, v, c.DuplicateIndex())
	}

	// skipping duplicates lands on the first one
	if _, v, err = c.MoveTo(MoveLast, SkipDuplicates); err != nil || string(v) != "R1" {
		t.Fatalf("MoveLast skip: got %s, %v; want R1", v, err)
	}
}

func TestEraseUnderCursor(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "K0", "a", 0)
	mustInsert(t, db, "K1", "R1", 0)
	mustInsert(t, db, "K1", "R2", Duplicate)
	mustInsert(t, db, "K2", "b", 0)

	c1 := openCursor(t, db)
	if err := c1.Find([]byte("K1")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := c1.Move(MoveNext, OnlyDuplicates); err != nil {
		t.Fatalf("MoveNext dup failed: %v", err)
	}
	if c1.DuplicateIndex() != 1 {
		t.Fatalf("duplicate index %d, want 1", c1.DuplicateIndex())
	}

	c2 := openCursor(t, db)
	if err := c2.Find([]byte("K1")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := c2.Erase(EraseAllDuplicates); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if !c2.IsNil() {
		t.Fatal("erasing cursor should be nil")
	}

	// c1 was uncoupled before the erase became visible
	if c1.State() != StateUncoupled {
		t.Fatalf("c1 state %v, want uncoupled", c1.State())
	}
	if err := c1.Move(MoveNext, 0); !IsNotFound(err) {
		t.Fatalf("move of c1: expected ErrKeyNotFound, got %v", err)
	}
	if !c1.IsNil() {
		t.Fatal("c1 should be nil after its key vanished")
	}
	if err := c1.Move(MoveNext, 0); !IsCursorNil(err) {
		t.Fatalf("expected ErrCursorIsNil, got %v", err)
	}
	if _, _, err := c1.ReadCurrent(false, false); err != nil {
		t.Fatalf("ReadCurrent without output on nil cursor: %v", err)
	}
	if _, _, err := c1.ReadCurrent(true, false); !IsCursorNil(err) {
		t.Fatalf("expected ErrCursorIsNil, got %v", err)
	}
	if err := c1.Move(MoveFirst, 0); err != nil {
		t.Fatalf("MoveFirst failed: %v", err)
	}
}

func TestRecoupleByKey(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "k5", "five", 0)
	mustInsert(t, db, "k7", "seven", 0)

	c := openCursor(t, db)
	if err := c.Find([]byte("k5")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := c.Uncouple(); err != nil {
		t.Fatalf("Uncouple failed: %v", err)
	}
	if c.State() != StateUncoupled {
		t.Fatalf("state %v, want uncoupled", c.State())
	}

	// shift k5 to another slot
	mustInsert(t, db, "k1", "one", 0)
	mustInsert(t, db, "k2", "two", 0)

	k, v := current(t, c)
	if k != "k5" || v != "five" {
		t.Fatalf("recoupled at %s=%s, want k5=five", k, v)
	}
	if c.State() != StateCoupled {
		t.Fatalf("state %v, want coupled", c.State())
	}

	// an insert before a coupled cursor uncouples it
	mustInsert(t, db, "k3", "three", 0)
	if c.State() != StateUncoupled {
		t.Fatalf("state %v after insert before cursor, want uncoupled", c.State())
	}
	if k, _ = current(t, c); k != "k5" {
		t.Fatalf("recoupled at %s, want k5", k)
	}

	// an insert after it does not
	mustInsert(t, db, "k9", "nine", 0)
	if c.State() != StateCoupled {
		t.Fatalf("state %v after insert behind cursor, want coupled", c.State())
	}
}

// buildTree fills db with n keys in random order; every third key gets three
// records. It returns the pairs in forward order.
func buildTree(t *testing.T, db *DB, n int) []pair {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	var expect []pair
	for _, i := range rng.Perm(n) {
		key := fmt.Sprintf("key%05d", i)
		mustInsert(t, db, key, fmt.Sprintf("v%d-0", i), 0)
		if i%3 == 0 {
			mustInsert(t, db, key, fmt.Sprintf("v%d-1-%s", i, bytes.Repeat([]byte("p"), 20)), Duplicate)
			mustInsert(t, db, key, fmt.Sprintf("v%d-2", i), Duplicate)
		}
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%05d", i)
		expect = append(expect, pair{key, fmt.Sprintf("v%d-0", i)})
		if i%3 == 0 {
			expect = append(expect,
				pair{key, fmt.Sprintf("v%d-1-%s", i, bytes.Repeat([]byte("p"), 20))},
				pair{key, fmt.Sprintf("v%d-2", i)})
		}
	}
	return expect
}

func reversed(in []pair) []pair {
	out := make([]pair, len(in))
	for i, p := range in {
		out[len(in)-1-i] = p
	}
	return out
}

func comparePairs(t *testing.T, got, want []pair) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pair %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestForwardRoundTrip(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.PageCapacity = 4 })
	expect := buildTree(t, db, 300)
	if db.Stat().Splits == 0 {
		t.Fatal("expected page splits")
	}

	c := openCursor(t, db)
	comparePairs(t, walk(t, c, MoveFirst, 0), expect)
}

func TestBackwardRoundTrip(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.PageCapacity = 4 })
	expect := buildTree(t, db, 300)

	c := openCursor(t, db)
	comparePairs(t, walk(t, c, MoveLast, 0), reversed(expect))
}

func TestSkipDuplicatesWalk(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.PageCapacity = 5 })
	expect := buildTree(t, db, 100)

	var firsts []pair
	for i, p := range expect {
		if i == 0 || expect[i-1].key != p.key {
			firsts = append(firsts, p)
		}
	}

	c := openCursor(t, db)
	comparePairs(t, walk(t, c, MoveFirst, SkipDuplicates), firsts)
	comparePairs(t, walk(t, c, MoveLast, SkipDuplicates), reversed(firsts))
}

func TestOnlyDuplicates(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "a", "1", 0)
	mustInsert(t, db, "a", "2", Duplicate)
	mustInsert(t, db, "b", "3", 0)

	c := openCursor(t, db)
	if err := c.Move(MoveFirst, 0); err != nil {
		t.Fatalf("MoveFirst failed: %v", err)
	}
	if _, v, err := c.MoveTo(MoveNext, OnlyDuplicates); err != nil || string(v) != "2" {
		t.Fatalf("next dup: %s, %v", v, err)
	}
	if err := c.Move(MoveNext, OnlyDuplicates); !IsNotFound(err) {
		t.Fatalf("expected ErrKeyNotFound past last duplicate, got %v", err)
	}
	if k, v := current(t, c); k != "a" || v != "2" {
		t.Fatalf("cursor moved to %s=%s", k, v)
	}
	if _, v, err := c.MoveTo(MovePrevious, OnlyDuplicates); err != nil || string(v) != "1" {
		t.Fatalf("prev dup: %s, %v", v, err)
	}
	if err := c.Move(MovePrevious, OnlyDuplicates); !IsNotFound(err) {
		t.Fatalf("expected ErrKeyNotFound before first duplicate, got %v", err)
	}
}

func TestNextPreviousSymmetry(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.PageCapacity = 4 })
	expect := buildTree(t, db, 60)

	c := openCursor(t, db)
	if err := c.Move(MoveFirst, 0); err != nil {
		t.Fatalf("MoveFirst failed: %v", err)
	}
	for i := 0; i < len(expect); i++ {
		k, v := current(t, c)
		dup := c.DuplicateIndex()
		if (pair{k, v}) != expect[i] {
			t.Fatalf("position %d: got %s=%s, want %v", i, k, v, expect[i])
		}

		err := c.Move(MoveNext, 0)
		if i == len(expect)-1 {
			if !IsNotFound(err) {
				t.Fatalf("expected ErrKeyNotFound at the end, got %v", err)
			}
			// failure at the end is a no-op
			if k2, v2 := current(t, c); k2 != k || v2 != v || c.DuplicateIndex() != dup {
				t.Fatalf("cursor moved on failed next: %s=%s", k2, v2)
			}
			break
		}
		if err != nil {
			t.Fatalf("MoveNext at %d failed: %v", i, err)
		}
		if err := c.Move(MovePrevious, 0); err != nil {
			t.Fatalf("MovePrevious at %d failed: %v", i, err)
		}
		if k2, v2 := current(t, c); k2 != k || v2 != v || c.DuplicateIndex() != dup {
			t.Fatalf("next+previous from %s=%s dup %d landed on %s=%s dup %d",
				k, v, dup, k2, v2, c.DuplicateIndex())
		}
		if err := c.Move(MoveNext, 0); err != nil {
			t.Fatalf("MoveNext at %d failed: %v", i, err)
		}
	}

	if err := c.Move(MoveFirst, 0); err != nil {
		t.Fatalf("MoveFirst failed: %v", err)
	}
	if err := c.Move(MovePrevious, 0); !IsNotFound(err) {
		t.Fatalf("expected ErrKeyNotFound before the first key, got %v", err)
	}
	if k, _ := current(t, c); k != expect[0].key {
		t.Fatalf("cursor moved on failed previous: %s", k)
	}
}

func TestOverwriteKeepsPosition(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "k", "a", 0)
	mustInsert(t, db, "k", "b", Duplicate)
	mustInsert(t, db, "k", "c", Duplicate)

	c := openCursor(t, db)
	if err := c.Find([]byte("k")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := c.Move(MoveNext, 0); err != nil {
		t.Fatalf("MoveNext failed: %v", err)
	}

	long := string(bytes.Repeat([]byte("B"), 64))
	for _, rec := range []string{long, "", "bb", "12345678", long} {
		if err := c.Overwrite([]byte(rec)); err != nil {
			t.Fatalf("Overwrite(%d bytes) failed: %v", len(rec), err)
		}
		n, err := c.DuplicateCount()
		if err != nil || n != 3 {
			t.Fatalf("DuplicateCount after overwrite: %d, %v", n, err)
		}
		if c.DuplicateIndex() != 1 {
			t.Fatalf("DuplicateIndex after overwrite: %d", c.DuplicateIndex())
		}
		if _, v := current(t, c); v != rec {
			t.Fatalf("record after overwrite: %q, want %q", v, rec)
		}
	}

	// overwrite of a key without duplicates
	mustInsert(t, db, "z", "single", 0)
	if err := c.Find([]byte("z")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := c.Overwrite([]byte(long)); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	if got, _ := db.Find([]byte("z")); string(got) != long {
		t.Fatalf("Find after overwrite: %q", got)
	}
}

func TestOverwriteNilCursor(t *testing.T) {
	db := openTestDB(t, nil)
	c := openCursor(t, db)
	if err := c.Overwrite([]byte("x")); !IsCursorNil(err) {
		t.Fatalf("expected ErrCursorIsNil, got %v", err)
	}
	if _, err := c.DuplicateCount(); !IsCursorNil(err) {
		t.Fatalf("expected ErrCursorIsNil, got %v", err)
	}
}

func TestSetToNilIdempotent(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "k", "v", 0)
	c := openCursor(t, db)

	for _, uncouple := range []bool{false, true} {
		if err := c.Find([]byte("k")); err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if uncouple {
			if err := c.Uncouple(); err != nil {
				t.Fatalf("Uncouple failed: %v", err)
			}
		}
		c.SetToNil()
		if c.State() != StateNil || !c.IsNil() {
			t.Fatalf("state %v after SetToNil", c.State())
		}
		c.SetToNil()
		if c.State() != StateNil || !c.IsNil() || c.DuplicateIndex() != 0 {
			t.Fatalf("second SetToNil changed state to %v", c.State())
		}
	}
}

func TestStatesAreExclusive(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.PageCapacity = 4 })
	buildTree(t, db, 40)
	c := openCursor(t, db)

	check := func(want CursorState) {
		t.Helper()
		if got := c.State(); got != want {
			t.Fatalf("state %v, want %v", got, want)
		}
		if (want == StateNil) != c.IsNil() {
			t.Fatalf("IsNil %v in state %v", c.IsNil(), want)
		}
		_, coupled := c.state.(coupledState)
		if coupled != (c.regIndex >= 0) {
			t.Fatalf("registry index %d in state %v", c.regIndex, want)
		}
	}

	check(StateNil)
	if err := c.Move(MoveFirst, 0); err != nil {
		t.Fatalf("MoveFirst failed: %v", err)
	}
	check(StateCoupled)
	if err := c.Uncouple(); err != nil {
		t.Fatalf("Uncouple failed: %v", err)
	}
	check(StateUncoupled)
	if err := c.Uncouple(); err != nil {
		t.Fatalf("second Uncouple failed: %v", err)
	}
	check(StateUncoupled)
	if err := c.Move(MoveNext, 0); err != nil {
		t.Fatalf("MoveNext failed: %v", err)
	}
	check(StateCoupled)
	c.SetToNil()
	check(StateNil)
}

type txnParent bool

func (p txnParent) CoupledToTxnOp() bool { return bool(p) }

func TestIsNilWithParent(t *testing.T) {
	db := openTestDB(t, nil)
	c := openCursor(t, db)

	c.SetParent(txnParent(true))
	if c.IsNil() {
		t.Fatal("cursor with a txn-coupled parent must not be nil")
	}
	if _, _, err := c.ReadCurrent(true, true); !IsCursorNil(err) {
		t.Fatalf("expected ErrCursorIsNil, got %v", err)
	}
	c.SetParent(txnParent(false))
	if !c.IsNil() {
		t.Fatal("cursor should be nil")
	}
}

func TestUncoupleOutOfMemory(t *testing.T) {
	alloc := NewLimitAllocator(1 << 20)
	db := openTestDB(t, func(o *Options) { o.Allocator = alloc })
	mustInsert(t, db, "k2", "v2", 0)
	mustInsert(t, db, "k3", "v3", 0)

	c := openCursor(t, db)
	if err := c.Find([]byte("k3")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	alloc.SetLimit(alloc.InUse())
	if err := c.Uncouple(); !IsOutOfMemory(err) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if c.State() != StateCoupled {
		t.Fatalf("state %v after failed uncouple, want coupled", c.State())
	}
	if k, _ := current(t, c); k != "k3" {
		t.Fatalf("cursor moved to %s", k)
	}

	// an insert that would have to uncouple the cursor fails as a whole
	if err := db.Insert([]byte("k1"), []byte("v1"), 0); !IsOutOfMemory(err) {
		t.Fatalf("expected ErrOutOfMemory from insert, got %v", err)
	}
	if _, err := db.Find([]byte("k1")); !IsNotFound(err) {
		t.Fatalf("failed insert left k1 behind: %v", err)
	}
	if c.State() != StateCoupled {
		t.Fatalf("state %v after failed insert, want coupled", c.State())
	}

	alloc.SetLimit(1 << 20)
	mustInsert(t, db, "k1", "v1", 0)
	if c.State() != StateUncoupled {
		t.Fatalf("state %v, want uncoupled", c.State())
	}
	if k, _ := current(t, c); k != "k3" {
		t.Fatalf("recoupled at %s", k)
	}
}

func TestCloneOutOfMemory(t *testing.T) {
	alloc := NewLimitAllocator(1 << 20)
	db := openTestDB(t, func(o *Options) { o.Allocator = alloc })
	mustInsert(t, db, "key", "v", 0)

	c := openCursor(t, db)
	if err := c.Find([]byte("key")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := c.Uncouple(); err != nil {
		t.Fatalf("Uncouple failed: %v", err)
	}

	open := db.Stat().OpenCursors
	alloc.SetLimit(alloc.InUse())
	if _, err := c.Clone(); !IsOutOfMemory(err) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if got := db.Stat().OpenCursors; got != open {
		t.Fatalf("failed clone leaked a cursor: %d open, want %d", got, open)
	}
	if c.State() != StateUncoupled {
		t.Fatalf("source state %v", c.State())
	}
}

func TestClone(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "a", "1", 0)
	mustInsert(t, db, "b", "2", 0)
	mustInsert(t, db, "b", "3", Duplicate)

	c := openCursor(t, db)
	if err := c.Move(MoveLast, 0); err != nil {
		t.Fatalf("MoveLast failed: %v", err)
	}

	d, err := c.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	defer d.Close()
	if d.State() != StateCoupled || d.DuplicateIndex() != 1 {
		t.Fatalf("clone state %v dup %d", d.State(), d.DuplicateIndex())
	}
	if k, v := current(t, d); k != "b" || v != "3" {
		t.Fatalf("clone at %s=%s", k, v)
	}

	// moving the clone leaves the source alone
	if err := d.Move(MoveFirst, 0); err != nil {
		t.Fatalf("MoveFirst failed: %v", err)
	}
	if k, v := current(t, c); k != "b" || v != "3" {
		t.Fatalf("source moved to %s=%s", k, v)
	}

	if err := c.Uncouple(); err != nil {
		t.Fatalf("Uncouple failed: %v", err)
	}
	e, err := c.Clone()
	if err != nil {
		t.Fatalf("Clone of uncoupled cursor failed: %v", err)
	}
	defer e.Close()
	if e.State() != StateUncoupled {
		t.Fatalf("clone state %v, want uncoupled", e.State())
	}
	if k, v := current(t, e); k != "b" || v != "3" {
		t.Fatalf("clone at %s=%s", k, v)
	}
}

func TestCoupleToAndPointsTo(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "a", "1", 0)
	mustInsert(t, db, "b", "2", 0)

	c := openCursor(t, db)
	d := openCursor(t, db)
	if err := d.CoupleTo(c); Code(err) != ErrInvalidParameter {
		t.Fatalf("CoupleTo nil cursor: expected ErrInvalidParameter, got %v", err)
	}
	if err := c.Find([]byte("b")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := d.CoupleTo(c); err != nil {
		t.Fatalf("CoupleTo failed: %v", err)
	}
	if ok, err := d.PointsTo([]byte("b")); err != nil || !ok {
		t.Fatalf("PointsTo b: %v, %v", ok, err)
	}
	if ok, _ := d.PointsTo([]byte("a")); ok {
		t.Fatal("PointsTo a should be false")
	}
}

func TestDuplicateInsertPositions(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "k", "r0", 0)
	mustInsert(t, db, "k", "r1", Duplicate)

	c := openCursor(t, db)
	other := openCursor(t, db)
	if err := other.Find([]byte("k")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := other.Move(MoveNext, OnlyDuplicates); err != nil { // on r1
		t.Fatalf("MoveNext failed: %v", err)
	}

	mustInsert(t, db, "k", "r2", Duplicate|DupInsertFirst) // r2 r0 r1
	if _, v := current(t, other); v != "r1" {
		t.Fatalf("other cursor lost its duplicate: %s", v)
	}

	if err := c.Find([]byte("k")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := c.Move(MoveNext, 0); err != nil { // on r0
		t.Fatalf("MoveNext failed: %v", err)
	}
	if err := c.Insert([]byte("k"), []byte("r3"), Duplicate|DupInsertAfter); err != nil { // r2 r0 r3 r1
		t.Fatalf("insert after failed: %v", err)
	}
	if c.DuplicateIndex() != 2 {
		t.Fatalf("cursor on duplicate %d, want 2", c.DuplicateIndex())
	}
	if err := c.Insert([]byte("k"), []byte("r4"), Duplicate|DupInsertBefore); err != nil { // r2 r0 r4 r3 r1
		t.Fatalf("insert before failed: %v", err)
	}
	if _, v := current(t, c); v != "r4" {
		t.Fatalf("cursor on %s, want r4", v)
	}

	table, owned, err := c.DuplicateTable()
	if err != nil {
		t.Fatalf("DuplicateTable failed: %v", err)
	}
	if owned || table.Count() != 5 {
		t.Fatalf("table owned=%v count=%d", owned, table.Count())
	}

	var got []string
	for _, p := range walk(t, c, MoveFirst, 0) {
		got = append(got, p.rec)
	}
	want := []string{"r2", "r0", "r4", "r3", "r1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("duplicates %v, want %v", got, want)
	}
	if _, v := current(t, other); v != "r1" {
		t.Fatalf("other cursor lost its duplicate: %s", v)
	}

	if err := c.Insert([]byte("x"), []byte("r"), Duplicate|DupInsertBefore); Code(err) != ErrInvalidParameter {
		t.Fatalf("relative insert on another key: expected ErrInvalidParameter, got %v", err)
	}
}

func TestCursorEraseDuplicate(t *testing.T) {
	db := openTestDB(t, nil)
	for _, r := range []string{"a", "b", "c", "d"} {
		mustInsert(t, db, "k", r, Duplicate)
	}
	mustInsert(t, db, "z", "zz", 0)

	c := openCursor(t, db)
	other := openCursor(t, db)
	if err := other.Move(MoveFirst, 0); err != nil {
		t.Fatalf("MoveFirst failed: %v", err)
	}
	for i := 0; i < 3; i++ { // on d
		if err := other.Move(MoveNext, 0); err != nil {
			t.Fatalf("MoveNext failed: %v", err)
		}
	}

	if err := c.Find([]byte("k")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := c.Move(MoveNext, 0); err != nil { // on b
		t.Fatalf("MoveNext failed: %v", err)
	}
	if err := c.Erase(0); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if !c.IsNil() {
		t.Fatal("cursor should be nil after Erase")
	}
	if _, v := current(t, other); v != "d" {
		t.Fatalf("other cursor on %s, want d", v)
	}

	var got []string
	for _, p := range walk(t, c, MoveFirst, 0) {
		got = append(got, p.key+"="+p.rec)
	}
	if fmt.Sprint(got) != "[k=a k=c k=d z=zz]" {
		t.Fatalf("after erase: %v", got)
	}

	// erase down to one record folds the table back into the slot
	for _, r := range []string{"a", "c"} {
		if err := c.Find([]byte("k")); err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if _, v := current(t, c); v != r {
			t.Fatalf("first duplicate %s, want %s", v, r)
		}
		if err := c.Erase(0); err != nil {
			t.Fatalf("Erase failed: %v", err)
		}
	}
	if err := c.Find([]byte("k")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	table, owned, err := c.DuplicateTable()
	if err != nil {
		t.Fatalf("DuplicateTable failed: %v", err)
	}
	if !owned || table.Count() != 1 {
		t.Fatalf("table owned=%v count=%d, want synthesized single entry", owned, table.Count())
	}
	if _, v := current(t, other); v != "d" {
		t.Fatalf("other cursor on %s, want d", v)
	}

	if err := c.Erase(0); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if _, err := db.Find([]byte("k")); !IsNotFound(err) {
		t.Fatalf("k still present: %v", err)
	}
}

func TestDBEraseAllDuplicates(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "k", "a", 0)
	mustInsert(t, db, "k", "b", Duplicate)
	if err := db.Erase([]byte("k")); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if _, err := db.Find([]byte("k")); !IsNotFound(err) {
		t.Fatalf("k still present: %v", err)
	}
	if err := db.Erase([]byte("k")); !IsNotFound(err) {
		t.Fatalf("second Erase: expected ErrKeyNotFound, got %v", err)
	}
}

func TestEraseAllShrinksTree(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.PageCapacity = 4 })
	expect := buildTree(t, db, 200)

	keys := map[string]bool{}
	for _, p := range expect {
		keys[p.key] = true
	}
	rng := rand.New(rand.NewSource(7))
	var order []string
	for k := range keys {
		order = append(order, k)
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	c := openCursor(t, db)
	for i, k := range order {
		if err := db.Erase([]byte(k)); err != nil {
			t.Fatalf("Erase %s failed: %v", k, err)
		}
		delete(keys, k)
		if i%25 == 0 {
			got := walk(t, c, MoveFirst, SkipDuplicates)
			if len(got) != len(keys) {
				t.Fatalf("after %d erases: %d keys, want %d", i+1, len(got), len(keys))
			}
		}
	}
	if db.Stat().LeafRemovals == 0 {
		t.Fatal("expected empty leaves to be removed")
	}
	if err := c.Move(MoveFirst, 0); !IsNotFound(err) {
		t.Fatalf("expected empty tree, got %v", err)
	}

	// the tree is usable again
	mustInsert(t, db, "again", "1", 0)
	if k, _, err := c.MoveTo(MoveLast, 0); err != nil || string(k) != "again" {
		t.Fatalf("MoveLast: %s, %v", k, err)
	}
}

func TestEvictionKeepsCursorPosition(t *testing.T) {
	db := openTestDB(t, func(o *Options) {
		o.PageCapacity = 4
		o.CacheSize = 3
	})
	expect := buildTree(t, db, 300)

	c := openCursor(t, db)
	rng := rand.New(rand.NewSource(1))
	var got []pair
	k, v, err := c.MoveTo(MoveFirst, 0)
	for err == nil {
		got = append(got, pair{string(k), string(v)})
		// random lookups push the cursor's page out of the cache
		probe := expect[rng.Intn(len(expect))].key
		if _, ferr := db.Find([]byte(probe)); ferr != nil {
			t.Fatalf("Find %s failed: %v", probe, ferr)
		}
		k, v, err = c.MoveTo(MoveNext, 0)
	}
	if !IsNotFound(err) {
		t.Fatalf("walk stopped with %v", err)
	}
	comparePairs(t, got, expect)

	st := db.Stat()
	if st.Evictions == 0 || st.PageLoads == 0 {
		t.Fatalf("expected evictions and reloads, got %+v", st)
	}
}

func TestUncoupledCursorFollowsDuplicateInsert(t *testing.T) {
	for _, uncouple := range []bool{false, true} {
		t.Run(fmt.Sprintf("uncoupled=%v", uncouple), func(t *testing.T) {
			db := openTestDB(t, nil)
			mustInsert(t, db, "k1", "r1", Duplicate)
			mustInsert(t, db, "k1", "r2", Duplicate)

			c := openCursor(t, db)
			if err := c.Move(MoveLast, 0); err != nil {
				t.Fatalf("MoveLast failed: %v", err)
			}
			if uncouple {
				if err := c.Uncouple(); err != nil {
					t.Fatalf("Uncouple failed: %v", err)
				}
			}
			mustInsert(t, db, "k1", "r0", Duplicate|DupInsertFirst)

			if k, v := current(t, c); k != "k1" || v != "r2" {
				t.Fatalf("cursor reads %s=%s, want k1=r2", k, v)
			}
			if c.DuplicateIndex() != 2 {
				t.Fatalf("duplicate index %d, want 2", c.DuplicateIndex())
			}
		})
	}
}

func TestUncoupledCursorFollowsDuplicateErase(t *testing.T) {
	db := openTestDB(t, nil)
	for _, r := range []string{"r0", "r1", "r2"} {
		mustInsert(t, db, "k1", r, Duplicate)
	}

	c := openCursor(t, db)
	if err := c.Move(MoveLast, 0); err != nil {
		t.Fatalf("MoveLast failed: %v", err)
	}
	if err := c.Uncouple(); err != nil {
		t.Fatalf("Uncouple failed: %v", err)
	}

	e := openCursor(t, db)
	if err := e.Find([]byte("k1")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := e.Erase(0); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if k, v := current(t, c); k != "k1" || v != "r2" {
		t.Fatalf("cursor reads %s=%s, want k1=r2", k, v)
	}
	if c.DuplicateIndex() != 1 {
		t.Fatalf("duplicate index %d, want 1", c.DuplicateIndex())
	}
}

// TestEvictionWithDuplicateChanges holds cursors on single duplicates while
// other duplicates of their keys come and go and a tiny cache keeps evicting
// their pages.
func TestEvictionWithDuplicateChanges(t *testing.T) {
	db := openTestDB(t, func(o *Options) {
		o.PageCapacity = 4
		o.CacheSize = 3
	})

	const keys = 60
	key := func(i int) string { return fmt.Sprintf("k%03d", i) }
	for i := 0; i < keys; i++ {
		for j := 0; j < 3; j++ {
			mustInsert(t, db, key(i), fmt.Sprintf("r%03d-%d", i, j), Duplicate)
		}
	}

	rng := rand.New(rand.NewSource(7))
	type held struct {
		c   *Cursor
		rec string
	}
	var cursors []held
	pinned := map[string]bool{}
	for len(cursors) < 6 {
		i, j := rng.Intn(keys), rng.Intn(3)
		rec := fmt.Sprintf("r%03d-%d", i, j)
		if pinned[rec] {
			continue
		}
		c := openCursor(t, db)
		if err := c.Find([]byte(key(i))); err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		for n := 0; n < j; n++ {
			if err := c.Move(MoveNext, OnlyDuplicates); err != nil {
				t.Fatalf("MoveNext failed: %v", err)
			}
		}
		if _, v := current(t, c); v != rec {
			t.Fatalf("cursor placed on %s, want %s", v, rec)
		}
		cursors = append(cursors, held{c, rec})
		pinned[rec] = true
	}

	eraser := openCursor(t, db)
	for step := 0; step < 300; step++ {
		// half of the steps touch a key that holds a cursor
		i := rng.Intn(keys)
		if rng.Intn(2) == 0 {
			var hi int
			fmt.Sscanf(cursors[rng.Intn(len(cursors))].rec, "r%03d-", &hi)
			i = hi
		}

		if rng.Intn(2) == 0 {
			mustInsert(t, db, key(i), fmt.Sprintf("n%03d-%d", i, step), Duplicate|DupInsertFirst)
		} else {
			if err := eraser.Find([]byte(key(i))); err != nil {
				t.Fatalf("step %d: Find failed: %v", step, err)
			}
			n, err := eraser.DuplicateCount()
			if err != nil {
				t.Fatalf("step %d: DuplicateCount failed: %v", step, err)
			}
			if n > 1 {
				target := rng.Intn(n)
				for d := 0; d < target; d++ {
					if err := eraser.Move(MoveNext, OnlyDuplicates); err != nil {
						t.Fatalf("step %d: MoveNext failed: %v", step, err)
					}
				}
				if _, v := current(t, eraser); !pinned[v] {
					if err := eraser.Erase(0); err != nil {
						t.Fatalf("step %d: Erase failed: %v", step, err)
					}
				}
			}
			eraser.SetToNil()
		}

		// lookups elsewhere push the cursors' pages out of the cache
		for n := 0; n < 3; n++ {
			if _, err := db.Find([]byte(key(rng.Intn(keys)))); err != nil {
				t.Fatalf("step %d: Find failed: %v", step, err)
			}
		}

		for ci, h := range cursors {
			if _, v := current(t, h.c); v != h.rec {
				t.Fatalf("step %d: cursor %d reads %s, want %s", step, ci, v, h.rec)
			}
		}
	}

	if st := db.Stat(); st.Evictions == 0 {
		t.Fatalf("expected evictions, got %+v", st)
	}
}

func TestFailedDuplicateStepLeavesNil(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "a", "a0", 0)
	mustInsert(t, db, "b", "b0", Duplicate)
	mustInsert(t, db, "b", "b1", Duplicate)
	mustInsert(t, db, "c", "c0", 0)

	fwd := openCursor(t, db)
	if err := fwd.Find([]byte("b")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	bwd := openCursor(t, db)
	if err := bwd.Find([]byte("c")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	// lose the duplicate table of "b"
	p, slot, err := db.tree.find([]byte("b"))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if err := db.blobs.Free(p.slots[slot].rid); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	if err := fwd.Move(MoveNext, 0); err == nil || IsNotFound(err) {
		t.Fatalf("MoveNext over a lost table: %v", err)
	}
	if !fwd.IsNil() {
		t.Fatalf("cursor is %v after a failed MoveNext, want nil", fwd.State())
	}

	if err := bwd.Move(MovePrevious, 0); err == nil || IsNotFound(err) {
		t.Fatalf("MovePrevious into a lost table: %v", err)
	}
	if !bwd.IsNil() {
		t.Fatalf("cursor is %v after a failed MovePrevious, want nil", bwd.State())
	}
}

func TestSetCacheSize(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.PageCapacity = 4 })
	buildTree(t, db, 200)

	if err := db.SetCacheSize(0); Code(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if err := db.SetCacheSize(2); err != nil {
		t.Fatalf("SetCacheSize failed: %v", err)
	}
	if n := db.Stat().CachedPages; n > 2 {
		t.Fatalf("%d pages cached, want at most 2", n)
	}
	if _, err := db.Find([]byte("key00150")); err != nil {
		t.Fatalf("Find after shrink failed: %v", err)
	}
}

func TestClosedDatabase(t *testing.T) {
	db, err := Open(DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustInsert(t, db, "k", "v", 0)
	c, err := db.OpenCursor()
	if err != nil {
		t.Fatalf("OpenCursor failed: %v", err)
	}
	if err := c.Move(MoveFirst, 0); err != nil {
		t.Fatalf("MoveFirst failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !c.IsNil() {
		t.Fatal("cursor should be nil after Close")
	}
	if err := c.Move(MoveFirst, 0); Code(err) != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := db.Insert([]byte("a"), nil, 0); Code(err) != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := db.OpenCursor(); Code(err) != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	c.Close()
}

func TestCursorGetOps(t *testing.T) {
	db := openTestDB(t, nil)
	mustInsert(t, db, "a", "1", 0)
	mustInsert(t, db, "b", "2", 0)
	mustInsert(t, db, "b", "3", Duplicate)
	mustInsert(t, db, "b", "4", Duplicate)
	mustInsert(t, db, "c", "5", 0)

	c := openCursor(t, db)
	steps := []struct {
		op   uint
		key  string
		want string
	}{
		{First, "", "a=1"},
		{NextNoDup, "", "b=2"},
		{NextDup, "", "b=3"},
		{LastDup, "", "b=4"},
		{FirstDup, "", "b=2"},
		{Next, "", "b=3"},
		{PrevDup, "", "b=2"},
		{Prev, "", "a=1"},
		{Set, "c", "c=5"},
		{PrevNoDup, "", "b=2"}, // a skipping move enters at the first duplicate
		{GetCurrent, "", "b=2"},
		{Last, "", "c=5"},
	}
	for i, s := range steps {
		k, v, err := c.Get([]byte(s.key), s.op)
		if err != nil {
			t.Fatalf("step %d (op %d) failed: %v", i, s.op, err)
		}
		if got := string(k) + "=" + string(v); got != s.want {
			t.Fatalf("step %d (op %d): got %s, want %s", i, s.op, got, s.want)
		}
	}
	if n, err := c.Count(); err != nil || n != 1 {
		t.Fatalf("Count: %d, %v", n, err)
	}
}

func TestForEach(t *testing.T) {
	db := openTestDB(t, func(o *Options) { o.PageCapacity = 4 })
	expect := buildTree(t, db, 50)

	var got []pair
	err := db.ForEach(func(k, v []byte) error {
		got = append(got, pair{string(k), string(v)})
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	comparePairs(t, got, expect)
	if n := db.Stat().OpenCursors; n != 0 {
		t.Fatalf("ForEach left %d cursors open", n)
	}
}

func TestCompressedBlobs(t *testing.T) {
	db := openTestDB(t, func(o *Options) {
		o.Compression = CompressionZstd
		o.CompressMinSize = 32
	})
	big := bytes.Repeat([]byte("compressible "), 100)
	mustInsert(t, db, "big", string(big), 0)
	mustInsert(t, db, "big", "second", Duplicate)
	mustInsert(t, db, "mid", "0123456789abcdef", 0)

	got, err := db.Find([]byte("big"))
	if err != nil || !bytes.Equal(got, big) {
		t.Fatalf("Find big: %d bytes, %v", len(got), err)
	}
	c := openCursor(t, db)
	if err := c.Find([]byte("big")); err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if size, err := c.RecordSize(); err != nil || size != uint64(len(big)) {
		t.Fatalf("RecordSize: %d, %v", size, err)
	}
	if got, _ := db.Find([]byte("mid")); string(got) != "0123456789abcdef" {
		t.Fatalf("Find mid: %q", got)
	}
}

func TestCustomCompare(t *testing.T) {
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }
	db := openTestDB(t, func(o *Options) {
		o.Compare = reverse
		o.PageCapacity = 4
	})
	for i := 0; i < 20; i++ {
		mustInsert(t, db, fmt.Sprintf("%02d", i), "v", 0)
	}
	c := openCursor(t, db)
	got := walk(t, c, MoveFirst, 0)
	if got[0].key != "19" || got[len(got)-1].key != "00" {
		t.Fatalf("order with reverse compare: first %s last %s", got[0].key, got[len(got)-1].key)
	}
}
