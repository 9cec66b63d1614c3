package config

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"

	"github.com/colorcal/colorcal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		ReferenceDir:       ptr.To("/usr/share/color/argyll/ref"),
		WorkingDirRoot:     ptr.To("/var/lib/colorcal/sessions"),
		InkDrySeconds:      ptr.To(600),
		AllowNonRootAccess: ptr.To(false),
		// No reminder unless the user asks for one.
		RecalibrationCron: ptr.To(""),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

type RawFileConfig struct {
	ToolSearchPaths    []string          `json:"toolSearchPaths,omitempty"`
	ReferenceDir       *string           `json:"referenceDir,omitempty"`
	WorkingDirRoot     *string           `json:"workingDirRoot,omitempty"`
	InkDrySeconds      *int              `json:"inkDrySeconds,omitempty"`
	AllowNonRootAccess *bool             `json:"allowNonRootAccess,omitempty"`
	RecalibrationCron  *string           `json:"recalibrationCron,omitempty"`
	ExtraEnv           map[string]string `json:"extraEnv,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	env := map[string]string{}
	for _, kv := range c.ExtraEnv() {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}

	return &RawFileConfig{
		ToolSearchPaths:    c.ToolSearchPaths(),
		ReferenceDir:       ptr.To(c.ReferenceDir()),
		WorkingDirRoot:     ptr.To(c.WorkingDirRoot()),
		InkDrySeconds:      ptr.To(int(c.InkDryDelay() / time.Second)),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
		RecalibrationCron:  ptr.To(c.RecalibrationCron()),
		ExtraEnv:           env,
	}, nil
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) ToolSearchPaths() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.raw().ToolSearchPaths...)
}

func (f *File) ReferenceDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().ReferenceDir, *defaultFileConfig.ReferenceDir)
}

func (f *File) WorkingDirRoot() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().WorkingDirRoot, *defaultFileConfig.WorkingDirRoot)
}

func (f *File) InkDryDelay() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seconds := ptr.Deref(f.raw().InkDrySeconds, *defaultFileConfig.InkDrySeconds)
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().AllowNonRootAccess, *defaultFileConfig.AllowNonRootAccess)
}

func (f *File) RecalibrationCron() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().RecalibrationCron, *defaultFileConfig.RecalibrationCron)
}

func (f *File) ExtraEnv() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	env := make([]string, 0, len(f.raw().ExtraEnv))
	for k, v := range f.raw().ExtraEnv {
		env = append(env, k+"="+v)
	}
	// Map order is random; keep the tool environment stable.
	sort.Strings(env)
	return env
}

func (f *File) SetToolSearchPaths(paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ToolSearchPaths = append([]string(nil), paths...)
}

func (f *File) SetReferenceDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ReferenceDir = &dir
}

func (f *File) SetWorkingDirRoot(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().WorkingDirRoot = &dir
}

func (f *File) SetInkDryDelay(d time.Duration) {
	if d < 0 {
		panic("ink dry delay must not be negative")
	}

	seconds := int(d / time.Second)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().InkDrySeconds = &seconds
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().AllowNonRootAccess = &b
}

func (f *File) SetRecalibrationCron(expr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().RecalibrationCron = &expr
}

// Load reads the file. Comments and trailing commas are allowed. A missing
// or empty file yields the defaults.
func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(jsonc.ToJSON(b), &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

// Save writes the file as plain indented JSON. Comments are not preserved.
func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"toolSearchPaths":    f.ToolSearchPaths(),
		"referenceDir":       f.ReferenceDir(),
		"workingDirRoot":     f.WorkingDirRoot(),
		"inkDryDelay":        f.InkDryDelay().String(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
		"recalibrationCron":  f.RecalibrationCron(),
		"extraEnv":           len(f.ExtraEnv()),
	}
}
