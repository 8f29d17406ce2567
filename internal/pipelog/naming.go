package pipelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const fileExt = ".raftlog"

// FileMagicHeader opens every segment file, a fixed 8-byte sentinel.
var FileMagicHeader = [8]byte{'R', 'A', 'F', 'T', 'L', 'O', 'G', 0}

// Version follows FileMagicHeader in every segment file.
var Version = []byte{0x01, 0x00}

// PrefixLen is the size of the file-level header: magic + version.
var PrefixLen = len(FileMagicHeader) + len(Version)

func fileName(fileNum uint64) string {
	return fmt.Sprintf("%016d%s", fileNum, fileExt)
}

func filePath(dir string, fileNum uint64) string {
	return filepath.Join(dir, fileName(fileNum))
}

// scanFileNums lists every file_num present in dir, ascending.
func scanFileNums(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var nums []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		numStr := strings.TrimSuffix(name, fileExt)
		n, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

func writePrefix(buf []byte) {
	copy(buf[0:8], FileMagicHeader[:])
	copy(buf[8:8+len(Version)], Version)
}
