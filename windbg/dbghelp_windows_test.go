//go:build windows && !386

package windbg

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestSymbolInfoLayout(t *testing.T) {
	var info symbolInfo
	require.Equal(t, uintptr(32), unsafe.Offsetof(info.ModBase))
	require.Equal(t, uintptr(48), unsafe.Offsetof(info.Value))
	require.Equal(t, uintptr(56), unsafe.Offsetof(info.Address))
	require.Equal(t, uintptr(symbolNameOffset), unsafe.Offsetof(info.Name))
}
