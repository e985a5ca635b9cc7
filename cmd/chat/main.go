// Command chat connects to a realtime chat backend, subscribes the
// configured rooms, and prints messages and unread-state transitions
// until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/chat"
	"main/internal/ops"
	"main/internal/wire"
)

const (
	urlKey       = "server.url"
	tokenKey     = "server.token"
	principalKey = "server.principalId"
	roomsKey     = "rooms"
)

var (
	cfgFile      string
	pollInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Watch rooms on a realtime chat backend",
	Long: `chat connects to a realtime chat backend over websocket, logs in
with a resume token, subscribes the configured rooms, and prints
incoming messages plus every unread-count transition.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var fileCfg ops.FileConfig
		if err := viper.Unmarshal(&fileCfg); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		loaded, err := ops.Resolve(fileCfg)
		if err != nil {
			return err
		}
		return run(cmd.Context(), loaded)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./chat.json)")
	rootCmd.PersistentFlags().String("url", "", "websocket endpoint, e.g. wss://host/websocket")
	rootCmd.PersistentFlags().String("token", "", "resume token for login")
	rootCmd.PersistentFlags().String("principal-id", "", "authenticated principal id")
	rootCmd.PersistentFlags().StringSlice("room", nil, "room id to watch, repeatable")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", time.Second, "unread state poll interval")

	_ = viper.BindPFlag(urlKey, rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag(tokenKey, rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag(principalKey, rootCmd.PersistentFlags().Lookup("principal-id"))
	_ = viper.BindPFlag(roomsKey, rootCmd.PersistentFlags().Lookup("room"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("chat")
		viper.SetConfigType("json")
	}
	if err := viper.ReadInConfig(); err == nil {
		logs.Infof("using config file: %s", viper.ConfigFileUsed())
	}
}

// staticCredentials serves the token and principal loaded at startup.
type staticCredentials struct {
	token     string
	principal string
}

func (c staticCredentials) Credentials() (string, string, error) {
	if c.token == "" {
		return "", "", fmt.Errorf("no token configured")
	}
	return c.token, c.principal, nil
}

// printerCache renders room-level messages to stdout.
type printerCache struct{}

func (printerCache) StoreMessage(msg *wire.Message) {
	fmt.Printf("[%s] %s %s: %s\n",
		msg.SentAt.Format(time.TimeOnly), msg.RoomID, msg.Author.Username, msg.Text)
}

// roomPrinter renders room-list changes to stdout.
type roomPrinter struct{}

func (roomPrinter) RoomChanged(change *wire.RoomChange) {
	fmt.Printf("room %s %s %s\n", change.RoomID, change.Kind, change.Name)
}

func run(ctx context.Context, loaded ops.Loaded) error {
	creds := staticCredentials{
		token:     loaded.Server.Token,
		principal: loaded.Server.PrincipalID,
	}
	svc, err := chat.New(loaded, creds, printerCache{}, roomPrinter{})
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Connect(ctx); err != nil {
		return err
	}
	logs.Infof("connected, state: %s", svc.State())

	for _, roomID := range loaded.Rooms {
		svc.SubscribeRoom(roomID)
		logs.Infof("watching room %s", roomID)
	}

	watch(ctx, svc, loaded.Rooms)

	snapshot := svc.Metrics()
	logs.Infof("frames in: %d, dropped: %d, calls: %d, reconnects: %d",
		snapshot.FramesIn, snapshot.FramesDropped, snapshot.CallsIssued, snapshot.Reconnects)
	return nil
}

// watch polls the unread state and prints transitions until shutdown.
func watch(ctx context.Context, svc *chat.Service, rooms []string) {
	type seen struct {
		unread int
		alert  bool
		thread int
	}
	last := make(map[string]seen, len(rooms))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sys.Shutdown():
			logs.Info("shutting down")
			return
		case <-ticker.C:
			for _, roomID := range rooms {
				now := seen{
					unread: svc.RoomUnread(roomID),
					alert:  svc.RoomAlert(roomID),
					thread: svc.RoomThreadTotal(roomID),
				}
				if prev, ok := last[roomID]; ok && prev == now {
					continue
				}
				last[roomID] = now
				fmt.Printf("room %s unread=%d alert=%v threads=%d\n",
					roomID, now.unread, now.alert, now.thread)
			}
		}
	}
}
