// Command isamctl is a small operator CLI over the isam engine: create a
// file, insert/look up/delete records, scan it in key order, and print
// block-cache and file statistics.
//
// Flag parsing follows the same per-subcommand pflag.FlagSet pattern used
// throughout the example fleet's CLI tools: each subcommand that takes
// flags (create, stats) builds its own ContinueOnError FlagSet and parses
// the remaining args; put, get, delete and scan take positional args only.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	json "github.com/goccy/go-json"

	"github.com/go-isam/isamgo"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = cmdCreate(os.Args[2:])
	case "put":
		err = cmdPut(os.Args[2:])
	case "get":
		err = cmdGet(os.Args[2:])
	case "delete":
		err = cmdDelete(os.Args[2:])
	case "scan":
		err = cmdScan(os.Args[2:])
	case "stats":
		err = cmdStats(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "isamctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: isamctl <command> [args]

commands:
  create <path> --keylen N --datalen N --recperblock N --nblocks N
  put    <path> <key> <value>
  get    <path> <key>
  delete <path> <key> <value>
  scan   <path>
  stats  <path> [--json]`)
}

func cmdCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	keyLen := fs.Int("keylen", 8, "key length in bytes (8-40)")
	dataLen := fs.Int("datalen", 8, "value length in bytes")
	recPerBlock := fs.Int("recperblock", 16, "records per block")
	nBlocks := fs.Int("nblocks", 16, "expected regular data blocks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("create: missing path")
	}

	db, err := isam.Create(fs.Arg(0), *keyLen, *dataLen, *recPerBlock, *nBlocks)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("created %s (keyLen=%d dataLen=%d recPerBlock=%d nBlocks=%d)\n",
		fs.Arg(0), *keyLen, *dataLen, *recPerBlock, *nBlocks)
	return nil
}

func cmdPut(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("put: usage: isamctl put <path> <key> <value>")
	}
	db, err := isam.Open(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	key, err := fitKey(db, args[1])
	if err != nil {
		return err
	}
	val, err := fitValue(db, args[2])
	if err != nil {
		return err
	}

	if err := db.WriteNew(key, val); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdGet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("get: usage: isamctl get <path> <key>")
	}
	db, err := isam.Open(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	key, err := fitKey(db, args[1])
	if err != nil {
		return err
	}

	val, err := db.ReadByKey(key)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", val)
	return nil
}

func cmdDelete(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("delete: usage: isamctl delete <path> <key> <value>")
	}
	db, err := isam.Open(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	key, err := fitKey(db, args[1])
	if err != nil {
		return err
	}
	val, err := fitValue(db, args[2])
	if err != nil {
		return err
	}

	if err := db.Delete(key, val); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdScan(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("scan: usage: isamctl scan <path>")
	}
	db, err := isam.Open(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetKey(""); err != nil {
		return err
	}
	for {
		key, val, err := db.ReadNext()
		if err != nil {
			if err.(*isam.Error).Kind == isam.EOF {
				return nil
			}
			return err
		}
		fmt.Printf("%s\t%v\n", key, val)
	}
}

type statsOutput struct {
	File  isam.FileStats `json:"file"`
	Cache any            `json:"cache"`
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "render as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("stats: missing path")
	}

	db, err := isam.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer db.Close()

	fileStats, err := db.FileStats()
	if err != nil {
		return err
	}
	cacheStats := db.CacheStats()

	if *asJSON {
		out := statsOutput{File: fileStats, Cache: cacheStats}
		enc, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	}

	fmt.Printf("records: used=%d empty=%d\n", fileStats.UsedRecords, fileStats.EmptyRecords)
	fmt.Printf("regular blocks: empty=%d partial=%d full=%d used(min/avg/max)=%d/%.2f/%d\n",
		fileStats.Regular.EmptyBlocks, fileStats.Regular.PartialBlocks, fileStats.Regular.FullBlocks,
		fileStats.Regular.UsedMin, fileStats.Regular.UsedAvg, fileStats.Regular.UsedMax)
	fmt.Printf("overflow blocks: empty=%d partial=%d full=%d used(min/avg/max)=%d/%.2f/%d\n",
		fileStats.Overflow.EmptyBlocks, fileStats.Overflow.PartialBlocks, fileStats.Overflow.FullBlocks,
		fileStats.Overflow.UsedMin, fileStats.Overflow.UsedAvg, fileStats.Overflow.UsedMax)
	fmt.Printf("key length: min=%d avg=%.2f max=%d\n", fileStats.KeyLenMin, fileStats.KeyLenAvg, fileStats.KeyLenMax)
	fmt.Printf("cache: calls=%d reads=%d writes=%d\n",
		cacheStats.CacheBlockCalls, cacheStats.DiskReads, cacheStats.DiskWrites)
	return nil
}

// fitKey pads or rejects a CLI-supplied key to the file's exact KeyLen.
// Padding is with spaces, matching the engine's own key convention
// ("alpha   "), not NUL: a NUL-padded key would sort differently than the
// same key entered fully space-padded, and compare unequal to it.
func fitKey(db *isam.DB, s string) (string, error) {
	n := db.KeyLen()
	if len(s) > n {
		return "", fmt.Errorf("key %q longer than keyLen %d", s, n)
	}
	if len(s) == n {
		return s, nil
	}
	pad := make([]byte, n-len(s))
	for i := range pad {
		pad[i] = ' '
	}
	return s + string(pad), nil
}

// fitValue pads or rejects a CLI-supplied value to the file's exact
// DataLen, treating it as raw bytes.
func fitValue(db *isam.DB, s string) ([]byte, error) {
	n := db.DataLen()
	b := []byte(s)
	if len(b) > n {
		return nil, fmt.Errorf("value longer than dataLen %d", n)
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
