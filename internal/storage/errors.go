package storage

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrNotFound is returned when a lookup matches no rows or objects.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateFingerprint is returned when a book insert loses the
	// uniqueness race on the fingerprint key.
	ErrDuplicateFingerprint = errors.New("duplicate book fingerprint")
	// ErrDuplicateOwnership is returned when the (user, book) link already exists.
	ErrDuplicateOwnership = errors.New("duplicate ownership link")
	// ErrObjectExists is returned by non-overwriting writes to an occupied key.
	ErrObjectExists = errors.New("object already exists")
)

const (
	mysqlErrDuplicateEntry = 1062

	fingerprintKey = "uniq_books_fingerprint"
	ownershipKey   = "uniq_book_owners_user_book"
)

// duplicateKey returns the name of the violated unique key when err is a
// MySQL duplicate-entry error.
func duplicateKey(err error) (string, bool) {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != mysqlErrDuplicateEntry {
		return "", false
	}
	// "Duplicate entry '...' for key 'books.uniq_books_fingerprint'"
	msg := mysqlErr.Message
	idx := strings.LastIndex(msg, "for key '")
	if idx < 0 {
		return "", true
	}
	key := strings.TrimSuffix(msg[idx+len("for key '"):], "'")
	if dot := strings.LastIndex(key, "."); dot >= 0 {
		key = key[dot+1:]
	}
	return key, true
}

// classifyInsertError maps duplicate-entry errors on known unique keys to
// sentinels. Everything else is returned unchanged.
func classifyInsertError(err error) error {
	key, ok := duplicateKey(err)
	if !ok {
		return err
	}
	switch key {
	case fingerprintKey:
		return ErrDuplicateFingerprint
	case ownershipKey:
		return ErrDuplicateOwnership
	default:
		return err
	}
}

// DiagnosticsOf extracts the MySQL error number and SQLSTATE from err, if any.
func DiagnosticsOf(err error) (code, hint string) {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return "", ""
	}
	code = strconv.Itoa(int(mysqlErr.Number))
	if mysqlErr.SQLState != [5]byte{} {
		hint = "SQLSTATE " + string(mysqlErr.SQLState[:])
	}
	return code, hint
}
