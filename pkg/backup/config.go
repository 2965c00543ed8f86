package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/function61/gokit/fileexists"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/osutil"
	"github.com/function61/gokit/sliceutil"
	"github.com/function61/peili/pkg/drivealias"
	"github.com/function61/peili/pkg/fssnapshot"
	"github.com/function61/ubackup/pkg/ubconfig"
	"github.com/spf13/cobra"
)

const (
	configFilename = "peili-config.json"
)

type Config struct {
	SourcePath string `json:"source_path"` // example: "C:/Users/Alice/AppData/Roaming"
	TargetPath string `json:"target_path"` // example: "D:/Backup/AppData"

	// markers are empty dirs named <prefix>_<date>_<time> written into target after
	// each successful run
	MarkerPrefix string `json:"marker_prefix"`

	SnapshotProvider string `json:"snapshot_provider"` // one of fssnapshot.ProviderNames(). "" = platform default
	AliasLetter      string `json:"alias_letter"`      // drive letter the snapshot gets bound to (vshadow provider)
	LvmSnapshotSize  string `json:"lvm_snapshot_size"` // copy-on-write area size (lvm provider)

	RetentionKeep int `json:"retention_keep"` // prune markers beyond this many. 0 = keep all

	JournalPath     string `json:"journal_path"`     // "" = next to config file
	MetricsTextfile string `json:"metrics_textfile"` // "" = don't write metrics

	// opaque µbackup config. nil = no offsite copies of the run journal
	OffsiteBackup *ubconfig.Config `json:"offsite_backup"`
}

func ReadConfig() (*Config, error) {
	confPath, err := ConfigFilePath()
	if err != nil {
		return nil, fmt.Errorf("peili config: %v", err)
	}

	return readConfigWithPath(confPath)
}

func readConfigWithPath(confPath string) (*Config, error) {
	conf := &Config{}
	if err := jsonfile.Read(confPath, conf, true); err != nil {
		return nil, fmt.Errorf("peili config: %v", err)
	}

	if err := conf.applyDefaults(); err != nil {
		return nil, fmt.Errorf("peili config: %v", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("peili config: %v", err)
	}

	return conf, nil
}

func (c *Config) applyDefaults() error {
	if c.MarkerPrefix == "" {
		c.MarkerPrefix = "!Backup"
	}

	if c.AliasLetter == "" {
		c.AliasLetter = "B"
	}

	if c.LvmSnapshotSize == "" {
		c.LvmSnapshotSize = "1GB"
	}

	if c.JournalPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		c.JournalPath = filepath.Join(home, "peili-runs.db")
	}

	return nil
}

func (c *Config) Validate() error {
	if err := validateAbsolutePath("source_path", c.SourcePath); err != nil {
		return err
	}

	if err := validateAbsolutePath("target_path", c.TargetPath); err != nil {
		return err
	}

	if pathContains(c.SourcePath, c.TargetPath) {
		return errors.New("target_path must not equal or be inside source_path (the mirror would copy itself)")
	}

	if pathContains(c.TargetPath, c.SourcePath) {
		return errors.New("source_path must not equal or be inside target_path (the mirror would delete it)")
	}

	if !sliceutil.ContainsString(fssnapshot.ProviderNames(), c.SnapshotProvider) {
		return fmt.Errorf("unknown snapshot_provider: %q", c.SnapshotProvider)
	}

	if err := drivealias.ValidateLetter(c.AliasLetter); err != nil {
		return fmt.Errorf("alias_letter: %v", err)
	}

	if letter, isWindowsPath := windowsVolumeLetter(c.SourcePath); isWindowsPath && strings.EqualFold(letter, c.AliasLetter) {
		return fmt.Errorf("alias_letter %s collides with the source volume's own letter", c.AliasLetter)
	}

	if c.MarkerPrefix == "" || strings.ContainsAny(c.MarkerPrefix, `/\`) {
		return fmt.Errorf("invalid marker_prefix: %q", c.MarkerPrefix)
	}

	if c.RetentionKeep < 0 {
		return fmt.Errorf("retention_keep must be >= 0 (0 = keep all); got %d", c.RetentionKeep)
	}

	return nil
}

func validateAbsolutePath(key string, path string) error {
	if path == "" {
		return fmt.Errorf("%s not set", key)
	}

	if !pathIsAbsolute(path) {
		return fmt.Errorf("%s must be absolute; got %s", key, path)
	}

	return nil
}

// "C:/..." style counts as absolute no matter which platform we happen to be
// validating on (config files travel along with the backed-up profile)
func pathIsAbsolute(path string) bool {
	if filepath.IsAbs(path) {
		return true
	}

	return windowsAbsolutePathRe.MatchString(path)
}

var windowsAbsolutePathRe = regexp.MustCompile(`^[A-Za-z]:[/\\]`)

// case-insensitive because Windows filesystems usually are
func pathContains(parent string, child string) bool {
	normalize := func(path string) string {
		return strings.ToLower(strings.TrimSuffix(filepath.ToSlash(path), "/")) + "/"
	}

	return strings.HasPrefix(normalize(child), normalize(parent))
}

func windowsVolumeLetter(path string) (string, bool) {
	if len(path) >= 2 && path[1] == ':' {
		return strings.ToUpper(path[:1]), true
	}

	return "", false
}

func ConfigFilePath() (string, error) {
	usersHomeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(usersHomeDirectory, configFilename), nil
}

// what the ancestor of this tool was built to protect: the user's roaming profile data
func defaultSourcePath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.ToSlash(appData)
	}

	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.ToSlash(dir)
	}

	return ""
}

func configInitEntrypoint() *cobra.Command {
	source := defaultSourcePath()

	cmd := &cobra.Command{
		Use:   "config-init [targetPath]",
		Short: "Initialize configuration",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			confPath, err := ConfigFilePath()
			osutil.ExitIfError(err)

			exists, err := fileexists.Exists(confPath)
			osutil.ExitIfError(err)

			if exists {
				osutil.ExitIfError(errors.New("config file already exists"))
			}

			conf := &Config{
				SourcePath: source,
				TargetPath: filepath.ToSlash(args[0]),
			}

			osutil.ExitIfError(conf.applyDefaults())
			osutil.ExitIfError(conf.Validate())

			osutil.ExitIfError(jsonfile.Write(confPath, conf))
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", source, "Directory to back up")

	return cmd
}

func configPrintEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "config-print",
		Short: "Prints path to config file & its contents",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			confPath, err := ConfigFilePath()
			osutil.ExitIfError(err)

			fmt.Printf("file: %s\n", confPath)

			exists, err := fileexists.Exists(confPath)
			osutil.ExitIfError(err)

			if !exists {
				fmt.Printf(".. does not exist. To configure, run:\n    $ %s config-init\n", os.Args[0])
				return
			}

			file, err := os.Open(confPath)
			osutil.ExitIfError(err)
			defer file.Close()

			_, err = io.Copy(os.Stdout, file)
			osutil.ExitIfError(err)
		},
	}
}
