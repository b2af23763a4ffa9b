package main

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
)

type discoveryClient interface {
	GetFamilyList(ctx context.Context) ([]haieriot.FamilyInfo, error)
	GetDevicesByFamilyID(ctx context.Context, familyID string) ([]haieriot.DeviceInfo, error)
	RefreshDevDigitalModel(ctx context.Context, deviceID string) (*haieriot.DevDigitalModel, error)
	Subscribe(deviceIDs []string) error
}

// discover lists devices, primes the model cache for each eligible one and
// subscribes to push updates for the set. It returns the subscribed ids.
func discover(ctx context.Context, c discoveryClient, cfg *Config, log logrus.FieldLogger) ([]string, error) {
	familyIDs := []string{cfg.FamilyID}
	if cfg.FamilyID == "" {
		fams, err := c.GetFamilyList(ctx)
		if err != nil {
			return nil, err
		}
		familyIDs = familyIDs[:0]
		for _, f := range fams {
			familyIDs = append(familyIDs, f.FamilyID)
		}
	}

	seen := map[string]bool{}
	var ids []string
	for _, fid := range familyIDs {
		devs, err := c.GetDevicesByFamilyID(ctx, fid)
		if err != nil {
			return nil, err
		}
		for _, d := range devs {
			id := d.BaseInfo.DeviceID
			entry := log.WithFields(logrus.Fields{"device": id, "name": d.DisplayName()})
			switch {
			case seen[id]:
				continue
			case cfg.deviceDisabled(id):
				entry.Debug("disabled, skipping")
				continue
			case !d.Controllable():
				entry.Debug("not controllable, skipping")
				continue
			}
			seen[id] = true
			if _, err := c.RefreshDevDigitalModel(ctx, id); err != nil {
				entry.WithError(err).Warn("fetch model")
				continue
			}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if err := c.Subscribe(ids); err != nil {
		return ids, err
	}
	log.WithField("count", len(ids)).Info("discovery complete")
	return ids, nil
}
