package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/phone-signin/internal/config"
	"github.com/iliyamo/phone-signin/internal/ratelimit"
)

// NewRateLimitCmd groups the rate-limit maintenance commands.
func NewRateLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect and reset code-request budgets",
	}
	cmd.AddCommand(newRateLimitResetCmd())
	return cmd
}

func newRateLimitResetCmd() *cobra.Command {
	var phone, addr string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the hourly budget for a phone or caller address",
		Long: `Clear the shared hourly budget for a phone number (--phone) or a caller
address (--addr). Only the redis backend can be reset from outside the server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := resetKeys(phone, addr)
			if err != nil {
				return err
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.OTP.Backend != "redis" {
				return oops.Code("CONFIG_INVALID").Errorf("RATE_LIMIT_BACKEND=%s keeps buckets in the server process", cfg.OTP.Backend)
			}
			rdb := config.NewRedisClient(cfg.Redis)
			if rdb == nil {
				return oops.Code("REDIS_UNAVAILABLE").With("addr", cfg.Redis.Addr).Errorf("cannot reach redis")
			}
			defer rdb.Close()

			limiter := ratelimit.NewRedis(rdb, ratelimit.Limits{Phone: cfg.OTP.PhoneHourly, Addr: cfg.OTP.AddrHourly}, "otp-rl", log)
			for _, key := range keys {
				if err := limiter.Reset(cmd.Context(), key); err != nil {
					return oops.Code("RATELIMIT_RESET_FAILED").With("key", key).Wrap(err)
				}
				cmd.Printf("reset %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "E.164 phone number")
	cmd.Flags().StringVar(&addr, "addr", "", "caller IP address")
	return cmd
}

// resetKeys validates the flags and returns the bucket keys to clear.
func resetKeys(phone, addr string) ([]string, error) {
	if phone == "" && addr == "" {
		return nil, oops.Code("INVALID_ARGS").Errorf("one of --phone or --addr is required")
	}
	var keys []string
	if phone != "" {
		keys = append(keys, ratelimit.PhoneKey(phone))
	}
	if addr != "" {
		keys = append(keys, ratelimit.AddrKey(addr))
	}
	return keys, nil
}
