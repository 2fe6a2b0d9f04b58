// Command keepkeyfw is the process entrypoint that wires the storage
// engine, session state, confirmation transport, exchange policy hook, and
// dispatcher into a running firmware instance. Grounded on the teacher's
// cmd/rivined/main.go convention of a single cobra root command delegating
// to a long-lived daemon loop, generalized from an HTTP API daemon to a
// framed-message loop over stdio (or, with --socket, a Unix socket) so the
// binary can be driven by a host-side test harness without real USB HID.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/NebulousLabs/threadgroup"
	"github.com/spf13/cobra"

	"github.com/keepkey/keepkey-firmware-sub001/build"
	"github.com/keepkey/keepkey-firmware-sub001/internal/confirm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/dispatcher"
	"github.com/keepkey/keepkey-firmware-sub001/internal/exchange"
	"github.com/keepkey/keepkey-firmware-sub001/internal/flash"
	"github.com/keepkey/keepkey-firmware-sub001/internal/session"
	"github.com/keepkey/keepkey-firmware-sub001/internal/storage"
	"github.com/keepkey/keepkey-firmware-sub001/persist"
	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

var (
	dataDir    string
	socketPath string
	mfrVariant bool
)

func main() {
	root := &cobra.Command{
		Use:   "keepkeyfw",
		Short: "Run the firmware dispatch loop",
		Long:  fmt.Sprintf("keepkeyfw %s (%s)", build.Version, build.Release),
		RunE:  runDaemon,
	}
	root.Flags().StringVar(&dataDir, "data-dir", "./keepkeyfw-data", "directory holding the three flash sector files")
	root.Flags().StringVar(&socketPath, "socket", "", "Unix socket path to listen on; empty means stdio framing")
	root.Flags().BoolVar(&mfrVariant, "manufacturing", false, "run as the manufacturing-only firmware variant")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log, err := persist.NewLogger("keepkeyfw")
	if err != nil {
		return err
	}
	defer log.Close()

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return err
	}
	var sectors [flash.NumSectors]flash.Sector
	for i := 0; i < flash.NumSectors; i++ {
		path := fmt.Sprintf("%s/sector%d.bin", dataDir, i)
		fs, err := flash.NewFileSector(path, storage.StorageSectorLen)
		if err != nil {
			return err
		}
		sectors[i] = fs
	}
	dev := flash.NewDevice(sectors)

	hw, err := loadOSEntropy(dataDir)
	if err != nil {
		return err
	}
	engine := storage.NewEngine(dev, hw, log)
	if err := engine.Init(); err != nil {
		return err
	}
	if !engine.IsInitialized() {
		if err := engine.InitializeBlank(); err != nil {
			return err
		}
	}

	sess := session.New()
	variant := dispatcher.AnyVariant
	if mfrVariant {
		variant = dispatcher.MFROnly
	}

	var issuerKey [32]byte
	ex := exchange.New(issuerKey)

	if socketPath != "" {
		return serveSocket(engine, sess, ex, log, variant)
	}
	return serveStdio(engine, sess, ex, log, variant)
}

// stopOnSignal ties a threadgroup.ThreadGroup's shutdown to SIGINT/SIGTERM,
// mirroring the teacher's modules/wallet.Wallet pattern of a single
// ThreadGroup guarding in-flight goroutines against use-after-close (there:
// wallet methods against a closed wallet; here: accepted connections
// against a listener the daemon is shutting down).
func stopOnSignal(tg *threadgroup.ThreadGroup) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		tg.Stop()
	}()
}

// osEntropy satisfies storage.HardwareEntropy with a value fixed at first
// boot and read back unchanged on every later call, standing in for the
// real hardware RNG register named out of scope in spec §1. The original
// firmware's flash_readHWEntropy() (original_source/lib/firmware/
// storage.c) reads a persisted flash region for exactly this reason: the
// value salts wrappingKeyFor on both the wrap (SetPin) and every later
// unwrap (IsPinCorrect), so it must not change between the two or every
// correct PIN would derive a different key and be reported wrong.
type osEntropy struct {
	value [32]byte
}

// loadOSEntropy reads the stable entropy value from dataDir, generating
// and persisting one on first run.
func loadOSEntropy(dataDir string) (*osEntropy, error) {
	path := filepath.Join(dataDir, "hwentropy.bin")
	e := &osEntropy{}
	b, err := os.ReadFile(path)
	if err == nil && len(b) == len(e.value) {
		copy(e.value[:], b)
		return e, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if _, err := rand.Read(e.value[:]); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, e.value[:], 0600); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *osEntropy) Entropy32() [32]byte { return e.value }

// autoConfirmButtons approves every confirmation automatically, standing in
// for the physical buttons named out of scope in spec §1. A real board
// build replaces this with a GPIO-backed ButtonSource.
type autoConfirmButtons struct{}

func (autoConfirmButtons) WaitPressed(ctx context.Context) (bool, error) { return true, nil }

func serveStdio(engine *storage.Engine, sess *session.State, ex *exchange.Hook, log *persist.Logger, variant dispatcher.Variant) error {
	t := newFrameTransport(os.Stdin, os.Stdout)
	d := dispatcher.New(t, engine, sess, autoConfirmButtons{}, ex, log, variant)
	return serveLoop(context.Background(), d, t)
}

func serveSocket(engine *storage.Engine, sess *session.State, ex *exchange.Hook, log *persist.Logger, variant dispatcher.Variant) error {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Println("listening on", socketPath)

	var tg threadgroup.ThreadGroup
	tg.OnStop(func() error { return ln.Close() })
	stopOnSignal(&tg)
	defer tg.Stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if tg.IsStopped() {
				return nil
			}
			return err
		}
		if err := tg.Add(); err != nil {
			// the threadgroup is stopping; refuse new connections and drain.
			conn.Close()
			return nil
		}
		t := newFrameTransport(conn, conn)
		d := dispatcher.New(t, engine, sess, autoConfirmButtons{}, ex, log, variant)
		go func() {
			defer tg.Done()
			defer conn.Close()
			if err := serveLoop(context.Background(), d, t); err != nil {
				log.Println("connection closed:", err)
			}
		}()
	}
}

func serveLoop(ctx context.Context, d *dispatcher.Dispatcher, t *frameTransport) error {
	for {
		id, payload, err := t.Recv(ctx)
		if err != nil {
			return err
		}
		if err := d.Dispatch(ctx, id, payload); err != nil {
			return err
		}
	}
}

// frameTransport implements dispatcher.Transport over
// wire.WriteFrame/wire.FrameReader, the HID-style framing of §6.
type frameTransport struct {
	w  *bufio.Writer
	fr *wire.FrameReader
}

func newFrameTransport(r io.Reader, w io.Writer) *frameTransport {
	return &frameTransport{w: bufio.NewWriter(w), fr: wire.NewFrameReader(r)}
}

func (t *frameTransport) Send(id wire.MessageID, msg interface{}) error {
	payload, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(t.w, uint16(id), payload); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *frameTransport) Recv(ctx context.Context) (wire.MessageID, []byte, error) {
	frame, err := t.fr.ReadFrame()
	if err != nil {
		return 0, nil, err
	}
	return wire.MessageID(frame.ID), frame.Payload, nil
}

var _ confirm.ButtonSource = autoConfirmButtons{}
