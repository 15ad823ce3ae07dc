package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/EpicMandM/esxi-snapshot-service/internal/app"
	"github.com/EpicMandM/esxi-snapshot-service/internal/config"
	srvErrors "github.com/EpicMandM/esxi-snapshot-service/internal/errors"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
	"github.com/EpicMandM/esxi-snapshot-service/internal/orchestrator"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const defaultPort = 443

// Operator is the part of the orchestrator the CLI drives.
type Operator interface {
	Create(ctx context.Context, vmName string, req orchestrator.CreateRequest) (*models.CreateSnapshotResponse, error)
	ListAll(ctx context.Context, vmName string) (*models.SnapshotListResponse, error)
	ListTree(ctx context.Context, vmName string) (*models.SnapshotListResponse, error)
	ListCurrent(ctx context.Context, vmName string) (*models.SnapshotSummary, error)
	Delete(ctx context.Context, vmName, name string, cascade bool) error
	Revert(ctx context.Context, vmName, name string) error
	DeleteAll(ctx context.Context, vmName string) error
}

// Options holds the parsed command line.
type Options struct {
	Host        string
	Port        int
	User        string
	Password    string
	Insecure    bool
	Datacenter  string
	EnvFile     string
	ConfigPath  string
	Journal     bool
	Verbose     bool
	VMName      string
	Action      string
	Name        string
	Description string
	Memory      string
	Quiesce     string
	Snapshot    string
	ChildDelete string
	AllBranches bool
}

// Connector opens an Operator for the given settings. The returned
// function releases it.
type Connector func(ctx context.Context, cfg *config.Config, feature *config.FeatureConfig, log *logger.Logger) (Operator, func(context.Context) error, error)

// PasswordReader prompts for a password without echo.
type PasswordReader func(prompt string) (string, error)

// NewRootCmd builds the snapctl command. Nil connect or readPassword
// select the vCenter connection and the terminal prompt.
func NewRootCmd(connect Connector, readPassword PasswordReader) *cobra.Command {
	if connect == nil {
		connect = connectVCenter
	}
	if readPassword == nil {
		readPassword = terminalPassword
	}

	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "snapctl",
		Short: "Manage vSphere virtual machine snapshots",
		Long: `snapctl creates, lists, reverts and removes snapshots of a single
virtual machine on a vCenter or ESXi host.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Execute(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, connect, readPassword)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	addFlags(cmd, opts)
	return cmd
}

func addFlags(cmd *cobra.Command, o *Options) {
	f := cmd.Flags()
	f.StringVarP(&o.Host, "host", "s", "", "vSphere service address to connect to")
	f.IntVarP(&o.Port, "port", "o", defaultPort, "Port to connect on")
	f.StringVarP(&o.User, "user", "u", "", "User name to use when connecting to host")
	f.StringVarP(&o.Password, "password", "p", "", "Password to use when connecting to host")
	f.BoolVar(&o.Insecure, "insecure", false, "Skip TLS certificate verification")
	f.StringVar(&o.Datacenter, "datacenter", "", "Datacenter to search, default datacenter when empty")
	f.StringVar(&o.EnvFile, "env-file", ".env", "Optional .env file with VSPHERE_* settings")
	f.StringVar(&o.ConfigPath, "config", "", "Optional TOML feature config")
	f.BoolVar(&o.Journal, "journal", false, "Record mutating operations in the store from the feature config")
	f.BoolVarP(&o.Verbose, "verbose", "v", false, "Write operation logs to stderr")
	f.StringVar(&o.VMName, "vmname", "", "Name of the virtual machine")
	f.StringVarP(&o.Action, "action", "a", "", "One of: "+verbList())
	f.StringVarP(&o.Name, "name", "n", "", "Snapshot name to create")
	f.StringVarP(&o.Description, "description", "d", "", "Snapshot description")
	f.StringVar(&o.Memory, "memory", models.No.String(), "Include the VM memory: yes or no")
	f.StringVar(&o.Quiesce, "quiesce", models.No.String(), "Quiesce the guest filesystem: yes or no")
	f.StringVar(&o.Snapshot, "snapshotname", "", "Snapshot to delete or revert to")
	f.StringVar(&o.ChildDelete, "child-snapshot-delete", models.No.String(), "Remove child snapshots too: yes or no")
	f.BoolVar(&o.AllBranches, "all-branches", false, "List every snapshot instead of the first-child chain")

	_ = cmd.MarkFlagRequired("vmname")
	_ = cmd.MarkFlagRequired("action")
}

// Execute validates the options, connects and runs the action.
func Execute(ctx context.Context, out, errOut io.Writer, o *Options, connect Connector, readPassword PasswordReader) error {
	verb, err := o.verb()
	if err != nil {
		return err
	}
	if err := o.validate(verb); err != nil {
		return err
	}

	cfg, err := o.config(readPassword)
	if err != nil {
		return err
	}
	feature, err := config.LoadFeatureConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	if !o.Journal {
		feature.Store.Path = ""
	}

	log := logger.Nop()
	if o.Verbose {
		log = logger.NewWithWriter(errOut)
	}

	ops, release, err := connect(ctx, cfg, feature, log)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn("Failed to disconnect", logger.Error(rerr))
		}
	}()

	return Dispatch(ctx, out, ops, verb, o)
}

// Dispatch runs one verb and prints its result.
func Dispatch(ctx context.Context, out io.Writer, ops Operator, verb models.Verb, o *Options) error {
	switch verb {
	case models.VerbCreate:
		opts := models.ParseSnapshotOptions(o.Memory, o.Quiesce, "")
		fmt.Fprintf(out, "Creating snapshot %s on VM %s\n", o.Name, o.VMName)
		resp, err := ops.Create(ctx, o.VMName, orchestrator.CreateRequest{
			Name:        o.Name,
			Description: o.Description,
			Options:     opts,
		})
		if err != nil {
			return err
		}
		return printCreated(out, resp)

	case models.VerbListAll:
		list := ops.ListAll
		if o.AllBranches {
			list = ops.ListTree
		}
		resp, err := list(ctx, o.VMName)
		if err != nil {
			return err
		}
		return printList(out, resp)

	case models.VerbListCurrent:
		cur, err := ops.ListCurrent(ctx, o.VMName)
		if srvErrors.IsResourceNotFoundError(err) {
			fmt.Fprintf(out, "No snapshot found for VM %s\n", o.VMName)
			return nil
		}
		if err != nil {
			return err
		}
		return printCurrent(out, o.VMName, cur)

	case models.VerbDelete:
		cascade := models.ParseChoice(o.ChildDelete).Bool()
		if cascade {
			fmt.Fprintf(out, "Removing snapshot %s along with its children\n", o.Snapshot)
		} else {
			fmt.Fprintf(out, "Removing snapshot %s only of VM %s\n", o.Snapshot, o.VMName)
		}
		return ops.Delete(ctx, o.VMName, o.Snapshot, cascade)

	case models.VerbRevert:
		fmt.Fprintf(out, "Reverting to snapshot %s\n", o.Snapshot)
		return ops.Revert(ctx, o.VMName, o.Snapshot)

	case models.VerbDeleteAll:
		fmt.Fprintf(out, "Removing all snapshots for virtual machine %s\n", o.VMName)
		if err := ops.DeleteAll(ctx, o.VMName); err != nil {
			return err
		}
		fmt.Fprintf(out, "All snapshots of VM %s removed\n", o.VMName)
		return nil
	}
	return srvErrors.NewInvalidArgumentError("invalid action %q", verb)
}

func (o *Options) verb() (models.Verb, error) {
	for _, v := range models.Verbs {
		if string(v) == o.Action {
			return v, nil
		}
	}
	return "", srvErrors.NewInvalidArgumentError("invalid action %q, want one of: %s", o.Action, verbList())
}

func (o *Options) validate(verb models.Verb) error {
	if o.VMName == "" {
		return srvErrors.NewInvalidArgumentError("vm name is required")
	}
	switch verb {
	case models.VerbCreate:
		if o.Name == "" {
			return srvErrors.NewInvalidArgumentError("snapshot name must be specified with -n")
		}
	case models.VerbDelete, models.VerbRevert:
		if o.Snapshot == "" {
			return srvErrors.NewInvalidArgumentError("snapshot to %s must be specified with --snapshotname", verb)
		}
	}
	for flag, v := range map[string]string{"memory": o.Memory, "quiesce": o.Quiesce, "child-snapshot-delete": o.ChildDelete} {
		if v != models.Yes.String() && v != models.No.String() {
			return srvErrors.NewInvalidArgumentError("--%s must be yes or no", flag)
		}
	}
	return nil
}

// config merges the flags over the .env file and environment.
func (o *Options) config(readPassword PasswordReader) (*config.Config, error) {
	cfg, err := config.Read(o.EnvFile)
	if err != nil {
		return nil, err
	}
	if o.Host != "" {
		cfg.VSphereURL = BuildURL(o.Host, o.Port)
	}
	if o.User != "" {
		cfg.VSphereUsername = o.User
	}
	if o.Password != "" {
		cfg.VSpherePassword = o.Password
	}
	if o.Insecure {
		cfg.VSphereInsecure = true
	}
	if o.Datacenter != "" {
		cfg.VSphereDatacenter = o.Datacenter
	}

	if cfg.VSpherePassword == "" && cfg.VSphereURL != "" && cfg.VSphereUsername != "" {
		host := cfg.VSphereURL
		if u, err := url.Parse(cfg.VSphereURL); err == nil && u.Host != "" {
			host = u.Hostname()
		}
		pw, err := readPassword(fmt.Sprintf("Enter password for host %s and user %s: ", host, cfg.VSphereUsername))
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		cfg.VSpherePassword = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BuildURL returns the SDK endpoint for host and port.
func BuildURL(host string, port int) string {
	if port <= 0 {
		port = defaultPort
	}
	// A host that already names a port is used as given.
	if _, _, err := net.SplitHostPort(host); err == nil {
		return "https://" + host + "/sdk"
	}
	hostPort := host
	if port != defaultPort {
		hostPort = net.JoinHostPort(host, strconv.Itoa(port))
	} else if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		hostPort = "[" + host + "]"
	}
	return "https://" + hostPort + "/sdk"
}

func verbList() string {
	names := make([]string, len(models.Verbs))
	for i, v := range models.Verbs {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}

func connectVCenter(ctx context.Context, cfg *config.Config, feature *config.FeatureConfig, log *logger.Logger) (Operator, func(context.Context) error, error) {
	a := app.New(cfg, feature, log)
	if err := a.Initialize(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, nil, err
	}
	return a.Orchestrator(), a.Close, nil
}

func terminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to prompt on, pass --password or set VSPHERE_PASSWORD")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
