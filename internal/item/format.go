package item

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Format defines how a file group is laid out: the primary file extension (or a
// directory) and any side-car files that share the primary's stem.
type Format struct {
	Name      string
	Ext       string            // primary extension with leading dot; "" for none
	Directory bool              // primary is a directory
	SideCars  map[string]string // side-car name -> extension
}

// Registered formats, most specific first.
var (
	Directory = Format{Name: "directory", Directory: true}
	Text      = Format{Name: "text", Ext: ".txt"}
	JSON      = Format{Name: "json", Ext: ".json"}
	NiftiGz   = Format{Name: "nifti_gz", Ext: ".nii.gz"}
	NiftiGzX  = Format{Name: "niftix_gz", Ext: ".nii.gz", SideCars: map[string]string{"json": ".json"}}
	Nifti     = Format{Name: "nifti", Ext: ".nii"}
	NiftiX    = Format{Name: "niftix", Ext: ".nii", SideCars: map[string]string{"json": ".json"}}
	Dicom     = Format{Name: "dicom", Directory: true}
	Generic   = Format{Name: "generic"}
)

var registry = []Format{NiftiGzX, NiftiX, NiftiGz, Nifti, Text, JSON}

var byName = func() map[string]Format {
	m := map[string]Format{}
	for _, f := range append(registry, Directory, Dicom, Generic) {
		m[f.Name] = f
	}
	return m
}()

// LookupFormat returns a registered format by name.
func LookupFormat(name string) (Format, error) {
	f, ok := byName[name]
	if !ok {
		return Format{}, fmt.Errorf("unknown format %q", name)
	}
	return f, nil
}

func (f Format) String() string { return f.Name }

// PrimaryPath appends the primary extension to stem.
func (f Format) PrimaryPath(stem string) string {
	return stem + f.Ext
}

// Stem strips the primary extension from a primary path.
func (f Format) Stem(primary string) string {
	return strings.TrimSuffix(primary, f.Ext)
}

// DefaultAuxPaths derives side-car paths from the primary path.
func (f Format) DefaultAuxPaths(primary string) map[string]string {
	if len(f.SideCars) == 0 {
		return map[string]string{}
	}
	stem := f.Stem(primary)
	out := make(map[string]string, len(f.SideCars))
	for name, ext := range f.SideCars {
		out[name] = stem + ext
	}
	return out
}

// InferFormat picks the format of a discovered group from its file names, all
// sharing one stem. isDir marks names that are directories. When no registered
// format matches the exact set of extensions, an ad-hoc format is returned
// whose primary is the single non-JSON member (or the only member) and whose
// side-cars are the rest, keyed by extension without the dot.
func InferFormat(names []string, isDir map[string]bool) (Format, error) {
	if len(names) == 0 {
		return Format{}, fmt.Errorf("no files to infer a format from")
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	if len(sorted) == 1 && isDir[sorted[0]] {
		if ext := extOf(sorted[0]); ext != "" {
			return Format{Name: "directory" + ext, Ext: ext, Directory: true}, nil
		}
		return Directory, nil
	}
	exts := make([]string, len(sorted))
	for i, n := range sorted {
		if isDir[n] {
			return Format{}, fmt.Errorf("directory %q shares a stem with other files", n)
		}
		exts[i] = extOf(n)
	}
	for _, f := range registry {
		if f.matches(exts) {
			return f, nil
		}
	}
	if len(exts) == 1 {
		return Format{Name: "generic" + exts[0], Ext: exts[0]}, nil
	}
	primary := -1
	for i, e := range exts {
		if e == ".json" {
			continue
		}
		if primary >= 0 {
			return Format{}, fmt.Errorf("cannot pick a primary file among %v", sorted)
		}
		primary = i
	}
	if primary < 0 {
		return Format{}, fmt.Errorf("cannot pick a primary file among %v", sorted)
	}
	f := Format{Name: "generic" + exts[primary], Ext: exts[primary], SideCars: map[string]string{}}
	for i, e := range exts {
		if i != primary {
			f.SideCars[strings.TrimPrefix(e, ".")] = e
		}
	}
	return f, nil
}

func (f Format) matches(exts []string) bool {
	if f.Directory || len(exts) != 1+len(f.SideCars) {
		return false
	}
	want := map[string]int{f.Ext: 1}
	for _, e := range f.SideCars {
		want[e]++
	}
	for _, e := range exts {
		if want[e] == 0 {
			return false
		}
		want[e]--
	}
	return true
}

// extOf returns everything from the first dot of the base name, so that
// "scan.nii.gz" yields ".nii.gz".
func extOf(name string) string {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[i:]
	}
	return ""
}

// StemOf returns the base name up to its first dot.
func StemOf(name string) string {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}
