package ecubridge

/*------------------------------------------------------------------
 *
 * Purpose:   	Announce the command port using DNS-SD.
 *
 * Description:	Lets ecuctl, or anything else on the laptop in the pits,
 *		find the bridge without knowing the car's address.
 *
 *		Uses the pure-Go github.com/brutella/dnssd responder, so
 *		no avahi daemon is needed on the car computer.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

const DNS_SD_SERVICE = "_ecubridge._tcp"

/*-------------------------------------------------------------------
 *
 * Name:	AnnounceCommandPort
 *
 * Purpose:	Start answering mDNS queries for the command port.
 *
 * Inputs:	name	- Instance name.  Empty means DEFAULT_DNS_SD_NAME.
 *		port	- TCP port of the command port.
 *
 * Description:	The responder runs until ctx is done.  Failing to
 *		announce isn't fatal to the bridge, so the caller normally
 *		just logs the error.
 *
 *--------------------------------------------------------------------*/

func AnnounceCommandPort(ctx context.Context, name string, port int, logger *log.Logger) error {
	if name == "" {
		name = DEFAULT_DNS_SD_NAME
	}

	logger = logger.WithPrefix("DNS-SD")

	var cfg = dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: DNS_SD_SERVICE,
		Port: port,
	}

	var sv, err = dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("creating responder: %w", err)
	}

	if _, err := rp.Add(sv); err != nil {
		return fmt.Errorf("adding service: %w", err)
	}

	logger.Info("announcing command port", "port", port, "name", name, "type", DNS_SD_SERVICE)

	go func() {
		if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
			logger.Error("responder failed", "err", err)
		}
	}()

	return nil
}
