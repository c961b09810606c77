package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"keygate/internal/config"
	"keygate/internal/protocol"
	"keygate/internal/store"
)

// HashCmd prints the digest a client must send for the given fields.
type HashCmd struct {
	Key     string `arg:"" help:"license key"`
	HWID    string `arg:"" name:"hwid" help:"hardware id"`
	Version string `arg:"" help:"client version"`
	PC      string `arg:"" name:"pc" help:"machine name"`

	out io.Writer
}

func (c *HashCmd) Run() error {
	fmt.Fprintln(writer(c.out), protocol.ComputeHash(c.Key, c.HWID, c.Version, c.PC))
	return nil
}

type KeysCmd struct {
	List KeysListCmd `cmd:"" help:"List license records"`
	Add  KeysAddCmd  `cmd:"" help:"Create an unbound license record"`
}

type KeysListCmd struct {
	Store config.StoreFlags `embed:""`
	JSON  bool              `help:"print the records as JSON" default:"false"`

	out io.Writer
}

func (c *KeysListCmd) Run(ctx context.Context, globals *Globals) error {
	log, err := globals.logger()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, &c.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	out := writer(c.out)
	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	keys := make([]string, 0, len(users))
	for k := range users {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tHWID\tEXPIRES\tFREE\tSTATUS")
	for _, k := range keys {
		rec := users[k]
		hwid := rec.HWID
		if hwid == "" {
			hwid = "-"
		}
		status := "active"
		if rec.ExpTime.Expired(now) {
			status = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", k, hwid, expiryString(rec.ExpTime), bool(rec.FreeKey), status)
	}
	return tw.Flush()
}

type KeysAddCmd struct {
	Store   config.StoreFlags `embed:""`
	Key     string            `arg:"" help:"license key to create"`
	Expires string            `help:"expiry as a date (2006-01-02), RFC 3339 time or epoch milliseconds" required:""`
	Free    bool              `help:"mark the key as a free key" default:"false"`

	out io.Writer
}

func (c *KeysAddCmd) Validate() error {
	if strings.TrimSpace(c.Key) == "" {
		return fmt.Errorf("key must not be empty")
	}
	if _, err := store.ParseExpiry(c.Expires); err != nil {
		return fmt.Errorf("invalid --expires: %w", err)
	}
	return nil
}

func (c *KeysAddCmd) Run(ctx context.Context, globals *Globals) error {
	if err := c.Validate(); err != nil {
		return err
	}
	log, err := globals.logger()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, &c.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	exp, _ := store.ParseExpiry(c.Expires)
	rec := store.UserRecord{ExpTime: exp, FreeKey: store.Flag(c.Free)}
	if err := st.AddUser(ctx, c.Key, rec); err != nil {
		return fmt.Errorf("failed to add %s: %w", c.Key, err)
	}
	fmt.Fprintf(writer(c.out), "added %s (expires %s)\n", c.Key, expiryString(exp))
	return nil
}

type VersionCmd struct {
	Show VersionShowCmd `cmd:"" help:"Show the accepted client version"`
	Set  VersionSetCmd  `cmd:"" help:"Set the accepted client version"`
}

type VersionShowCmd struct {
	Store config.StoreFlags `embed:""`

	out io.Writer
}

func (c *VersionShowCmd) Run(ctx context.Context, globals *Globals) error {
	log, err := globals.logger()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, &c.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	v, err := st.VersionInfo(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("version document unreadable, showing the default")
	}
	state := "disabled"
	if v.Enabled {
		state = "enabled"
	}
	fmt.Fprintf(writer(c.out), "version %s (%s)\n", v.Version, state)
	return nil
}

type VersionSetCmd struct {
	Store   config.StoreFlags `embed:""`
	Version string            `arg:"" help:"client version to accept"`
	Disable bool              `help:"turn the service off for every client" default:"false"`

	out io.Writer
}

func (c *VersionSetCmd) Run(ctx context.Context, globals *Globals) error {
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("version must not be empty")
	}
	log, err := globals.logger()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, &c.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	v := store.VersionInfo{Version: c.Version, Enabled: store.Flag(!c.Disable)}
	if err := st.SetVersionInfo(ctx, v); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	fmt.Fprintf(writer(c.out), "version set to %s (enabled=%t)\n", v.Version, bool(v.Enabled))
	return nil
}

func expiryString(e store.Expiry) string {
	if !e.Valid {
		return "invalid"
	}
	return e.Time.Format(time.RFC3339)
}

func writer(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
