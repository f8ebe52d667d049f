package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rubiojr/timefix/internal/metadata"
	"github.com/rubiojr/timefix/internal/resolver"
)

func runResolve(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return errors.New("nothing to resolve")
	}
	return resolveNames(os.Stdout, resolver.New(), metadata.NewExifReader(), c.Args().Slice())
}

// resolveNames prints what the resolver extracts from each argument. Existing
// files are read for EXIF dates first; anything else is tried as an EXIF date
// string and then as a file name.
func resolveNames(w io.Writer, r *resolver.Resolver, reader metadata.Reader, args []string) error {
	var failed int
	for _, arg := range args {
		t, source, err := resolveOne(r, reader, arg)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s\t-\t%v\n", arg, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", arg, t.Format("2006-01-02 15:04:05.000"), source)
	}
	if failed == len(args) {
		return errors.New("no dates found")
	}
	return nil
}

func resolveOne(r *resolver.Resolver, reader metadata.Reader, arg string) (time.Time, string, error) {
	if info, err := os.Stat(arg); err == nil && info.Mode().IsRegular() {
		if md, err := reader.Read(arg); err == nil && !md.Empty() {
			if t, err := r.FromMetadata(md); err == nil {
				return t, "exif", nil
			}
		}
	} else if t, err := r.ParseExif(arg); err == nil {
		return t, "exif", nil
	}

	t, strategy, ok := r.FromFilename(filepath.Base(arg))
	if !ok {
		return time.Time{}, "", errors.New("no date found")
	}
	return t, "filename:" + string(strategy), nil
}
