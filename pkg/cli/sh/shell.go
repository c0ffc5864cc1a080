package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/edgeflow/edgeflow.go/pkg/model"
	"github.com/edgeflow/edgeflow.go/pkg/telemetry"
	"github.com/edgeflow/edgeflow.go/pkg/transport"
	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *Config
	Conn   *Conn
}

// Conn is an open device link with probed metadata.
type Conn struct {
	URL    string
	Link   wire.Link
	Client *wire.Client
	Info   model.Header
}

// Device is a presence record discovered from the broker.
type Device struct {
	ID   string         `json:"id"`
	Meta telemetry.Meta `json:"meta"`
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "

	discoverWait = 700 * time.Millisecond
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// FormatInfo prints model metadata into friendly string for display.
func FormatInfo(hdr model.Header) string {
	return fmt.Sprintf("%v, %d weights", hdr, hdr.Layout().Total())
}

// PrintJSON prints v as JSON on the shell output.
func PrintJSON(c *ishell.Context, v interface{}) error {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return err
	}
	c.Println(string(out))
	return nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// DiscoverDevices collects retained presence records from the broker.
func (s *Shell) DiscoverDevices() ([]Device, error) {
	conf := telemetry.Default()
	if !conf.Enabled() {
		return nil, fmt.Errorf("no broker configured")
	}
	q, err := telemetry.NewQueueFromURL(conf.BrokerURL)
	if err != nil {
		return nil, err
	}
	if tok := q.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, tok.Error()
	}
	defer q.Close()

	var lock sync.Mutex
	found := make(map[string]telemetry.Meta)
	sub := q.Sub("+/meta", telemetry.Handler(func(topic string, payload []byte) {
		var meta telemetry.Meta
		if json.Unmarshal(payload, &meta) != nil {
			return
		}
		lock.Lock()
		found[strings.TrimSuffix(topic, "/meta")] = meta
		lock.Unlock()
	}))
	defer sub.Close()
	time.Sleep(discoverWait)

	lock.Lock()
	defer lock.Unlock()
	devs := make([]Device, 0, len(found))
	for id, meta := range found {
		devs = append(devs, Device{ID: id, Meta: meta})
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	return devs, nil
}

// SelectDevice discovers devices and asks for a choice.
func (s *Shell) SelectDevice() (*Device, error) {
	devs, err := s.DiscoverDevices()
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, nil
	}
	var index int
	if len(devs) > 1 {
		if !s.Interactive {
			return nil, fmt.Errorf("more than 1 devices discovered in non-interactive mode")
		}
		items := make([]string, len(devs))
		for n, dev := range devs {
			items[n] = dev.ID
			if dev.Meta.Link != "" {
				items[n] += ": " + dev.Meta.Link
			}
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
	}
	return &devs[index], nil
}

// Connect dials a device link and probes it.
func (s *Shell) Connect(url string) error {
	link, err := transport.Dial(url)
	if err != nil {
		return err
	}
	client := wire.NewClient(link)
	client.ReplyWait = s.Config.ReplyWait
	hdr, err := client.QueryInfo()
	if err != nil {
		link.Close()
		return err
	}
	s.Disconnect()
	s.Conn = &Conn{URL: url, Link: link, Client: client, Info: hdr}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", promptName(url)))
	return nil
}

// Disconnect disconnects current device.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Link.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.DeviceURL != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.DeviceURL)
		}
		if err := s.Connect(s.Config.DeviceURL); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.DeviceURL, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

func promptName(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	if i := strings.Index(url, "?"); i >= 0 {
		url = url[:i]
	}
	if i := strings.LastIndex(url, "/"); i >= 0 {
		url = url[i+1:]
	}
	return url
}

var (
	// DiscoverCmd discovers devices.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			devs, err := s.DiscoverDevices()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if devs == nil {
					// in case devs is nil, make it empty slice.
					devs = []Device{}
				}
				PrintJSON(c, devs)
				return
			}
			if len(devs) == 0 {
				c.Println("No devices found")
				return
			}
			for _, dev := range devs {
				line := dev.ID
				if dev.Meta.Link != "" {
					line += ": " + dev.Meta.Link
				}
				if dev.Meta.Model != nil {
					line += fmt.Sprintf(" (T=%d F=%d H=%d hidden=%d)",
						dev.Meta.Model.T, dev.Meta.Model.F, dev.Meta.Model.H, dev.Meta.Model.Hidden)
				}
				c.Println(line)
			}
		},
	}

	// ConnectCmd connects a device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "URL",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var url string
			switch {
			case len(c.Args) >= 1:
				url = c.Args[0]
			case s.Config.DeviceURL != "":
				url = s.Config.DeviceURL
			default:
				dev, err := s.SelectDevice()
				if err != nil {
					c.Err(err)
					return
				}
				if dev == nil {
					c.Err(fmt.Errorf("no device discovered"))
					return
				}
				if dev.Meta.Link == "" {
					c.Err(fmt.Errorf("device %s exposes no link", dev.ID))
					return
				}
				url = dev.Meta.Link
			}
			if err := s.Connect(url); err != nil {
				c.Err(err)
				return
			}
		},
	}

	// DisconnectCmd disconnects current device.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}
