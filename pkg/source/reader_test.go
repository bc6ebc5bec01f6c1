package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHeaderRows(t *testing.T) {
	for _, n := range []int{1, 2} {
		assert.NoError(t, ValidateHeaderRows(n))
	}
	for _, n := range []int{-1, 0, 3} {
		assert.ErrorIs(t, ValidateHeaderRows(n), ErrHeaderRows)
	}
}

func TestReader_SkipsHeaderRows(t *testing.T) {
	input := "targetPID,targetActivity,sourcePID,sourceActivity,duration\n" +
		"int,string,int,string,int\n" +
		"5,1:2,7,1:4,900\n" +
		"6,1:1,8,1:3,60\n"

	r, err := NewReader("network[0]", strings.NewReader(input), Options{HeaderRows: 2})
	require.NoError(t, err)

	require.Len(t, r.Header(), 2)
	assert.Equal(t, "int", r.Header()[1][0])

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "5", rec[0])
	assert.Equal(t, int64(0), r.DataRow())
	assert.Equal(t, 3, r.Line())

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "6", rec[0])
	assert.Equal(t, int64(1), r.DataRow())
	assert.Equal(t, 4, r.Line())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_SingleHeaderRow(t *testing.T) {
	r, err := NewReader("persons", strings.NewReader("pid\n1\n2\n"), Options{HeaderRows: 1})
	require.NoError(t, err)

	var got []string
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, rec[0])
	}
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestReader_HeaderTooShort(t *testing.T) {
	_, err := NewReader("empty", strings.NewReader("only-one\n"), Options{HeaderRows: 2})
	assert.Error(t, err)
}

func TestReader_RejectsBadHeaderCount(t *testing.T) {
	_, err := NewReader("x", strings.NewReader("a\n"), Options{HeaderRows: 0})
	assert.ErrorIs(t, err, ErrHeaderRows)
}

func TestReader_TabSeparated(t *testing.T) {
	r, err := NewReader("tsv", strings.NewReader("a\tb\n1\t2\n"), Options{HeaderRows: 1, Comma: '\t'})
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, rec)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persons.csv")
	require.NoError(t, os.WriteFile(path, []byte("pid\n1\n"), 0o644))

	r, err := Open(path, Options{HeaderRows: 1})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, path, r.Name())

	_, err = Open(filepath.Join(t.TempDir(), "missing.csv"), Options{HeaderRows: 1})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
