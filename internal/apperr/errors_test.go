package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("generator: %w", Render("a.tpl", errors.New("boom")))
	assert.Equal(t, CodeRender, CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestIsMatchesByCode(t *testing.T) {
	err := TemplateParse("a.tpl", nil, Diagnostic{Line: 3, Message: "bad"})
	assert.True(t, errors.Is(err, &E{Code: CodeTemplateParse}))
	assert.False(t, errors.Is(err, &E{Code: CodeRender}))
}

func TestDiagnosticsInMessage(t *testing.T) {
	err := TemplateParse("a.tpl", nil, Diagnostic{Line: 3, Message: "bad"})
	assert.Equal(t, "TEMPLATE_PARSE: parse a.tpl: line 3: bad", err.Error())
	require.Len(t, DiagnosticsOf(err), 1)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(MonitorFault("watch", errors.New("gone"))))
	assert.True(t, IsFatal(QueueFault(errors.New("broken"))))
	assert.False(t, IsFatal(OutputWrite("x.txt", errors.New("disk"))))
}

func TestUnwrap(t *testing.T) {
	err := OutputWrite("x.txt", ErrConflict)
	assert.ErrorIs(t, err, ErrConflict)
}
