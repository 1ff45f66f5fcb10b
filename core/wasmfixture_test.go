package core

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// compileWAT shells out to wat2wasm to turn watSource into a .wasm module,
// the same external-tool dependency the teacher's CompileWASM helper uses
// for its own contract fixtures. Tests skip rather than fail when the tool
// is not installed on the machine running them.
func compileWAT(t *testing.T, watSource string) []byte {
	t.Helper()

	dir := t.TempDir()
	watPath := filepath.Join(dir, "fixture.wat")
	if err := os.WriteFile(watPath, []byte(watSource), 0o644); err != nil {
		t.Fatalf("write wat fixture: %v", err)
	}

	outPath := filepath.Join(dir, "fixture.wasm")
	cmd := exec.Command("wat2wasm", "-o", outPath, watPath)
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			t.Skip("wat2wasm not installed")
		}
		t.Fatalf("compile wat fixture: %v", err)
	}

	wasm, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read compiled fixture: %v", err)
	}
	return wasm
}

const watNoOp = `
(module
  (memory (export "memory") 1)
  (func (export "_start"))
)
`

const watBusyLoop = `
(module
  (memory (export "memory") 1)
  (func (export "_start")
    (local $i i32)
    (local.set $i (i32.const 0))
    (block $exit
      (loop $again
        (local.set $i (i32.add (local.get $i) (i32.const 1)))
        (br_if $exit (i32.ge_u (local.get $i) (i32.const 2000000000)))
        (br $again)
      )
    )
  )
)
`
