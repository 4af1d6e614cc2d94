package config

import "github.com/shaiso/Arbiter/internal/domain"

func domainFlow(group, name, cron string) domain.Flow {
	return domain.Flow{Group: group, Name: name, CronExpr: cron, Enabled: true}
}
