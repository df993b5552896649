package userdb

import (
	"os"
	"strings"
	"testing"
)

// Remove the file if the test was successful. Used in defer statements, to
// leave files around for inspection when the tests failed.
func removeIfSuccessful(t *testing.T, fname string) {
	if !strings.Contains(fname, "userdb_test") {
		panic("invalid/dangerous directory")
	}

	if !t.Failed() {
		os.Remove(fname)
	}
}

func mustCreateDB(t *testing.T, content string) string {
	f, err := os.CreateTemp("", "userdb_test")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}

	t.Logf("file: %q", f.Name())
	return f.Name()
}

func TestEmptyLoad(t *testing.T) {
	cases := []struct {
		desc    string
		content string
		fatal   bool
	}{
		{"empty file", "", false},
		{"invalid yaml", "users: [this is not a map]", true},
	}

	for _, c := range cases {
		fname := mustCreateDB(t, c.content)
		defer removeIfSuccessful(t, fname)

		db, err := Load(fname)
		if c.fatal && err == nil {
			t.Errorf("%s: expected error, got none", c.desc)
		}
		if !c.fatal && err != nil {
			t.Errorf("%s: unexpected error: %v", c.desc, err)
		}
		if db.Len() != 0 {
			t.Errorf("%s: expected empty db, got %d users", c.desc, db.Len())
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	db, err := Load("/does/not/exist/userdb_test.yaml")
	if err != nil {
		t.Errorf("missing file should not be an error, got: %v", err)
	}
	if db.Len() != 0 {
		t.Errorf("expected empty db, got %d users", db.Len())
	}
}

func TestAddAuthenticate(t *testing.T) {
	fname := mustCreateDB(t, "")
	defer removeIfSuccessful(t, fname)

	db, err := Load(fname)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := db.AddUser("marola", "hunter2"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if !db.Authenticate("marola", "hunter2") {
		t.Errorf("Authenticate with correct password failed")
	}
	if db.Authenticate("marola", "wrong") {
		t.Errorf("Authenticate with wrong password succeeded")
	}
	if db.Authenticate("ghost", "hunter2") {
		t.Errorf("Authenticate for unknown user succeeded")
	}

	if !db.Exists("marola") {
		t.Errorf("Exists returned false for known user")
	}
	if db.Exists("ghost") {
		t.Errorf("Exists returned true for unknown user")
	}
}

func TestAddUserRejectsUnnormalizedNames(t *testing.T) {
	db := New("/dev/null")
	if err := db.AddUser("NotNormalized", "x"); err == nil {
		t.Errorf("expected error adding an unnormalized username, got none")
	}
}

func TestWriteReload(t *testing.T) {
	fname := mustCreateDB(t, "")
	defer removeIfSuccessful(t, fname)

	db, err := Load(fname)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := db.AddUser("marola", "hunter2"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := db.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	db2, err := Load(fname)
	if err != nil {
		t.Fatalf("Load after Write: %v", err)
	}
	if !db2.Authenticate("marola", "hunter2") {
		t.Errorf("reloaded db failed to authenticate known user")
	}

	if err := db.AddUser("frondoso", "swordfish"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := db.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := db2.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !db2.Authenticate("frondoso", "swordfish") {
		t.Errorf("Reload did not pick up the new user")
	}
}

func TestRemoveUser(t *testing.T) {
	db := New("/dev/null")
	if err := db.AddUser("marola", "hunter2"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if !db.RemoveUser("marola") {
		t.Errorf("RemoveUser returned false for a present user")
	}
	if db.RemoveUser("marola") {
		t.Errorf("RemoveUser returned true for an absent user")
	}
	if db.Exists("marola") {
		t.Errorf("user still exists after RemoveUser")
	}
}
