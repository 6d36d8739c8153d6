package routing

import (
	"strings"

	"protoline/internal/config"
	"protoline/internal/domain"
)

// Draft carries the protocol fields the routing decision reads.
type Draft struct {
	Court        string
	System       string
	Degree       string
	Observations string
}

// Router decides which lane a new or resubmitted protocol lands in.
type Router struct {
	Reviewer string
	Rules    []config.AutomationRule
}

// FromConfig builds a router from the routing section of the config.
func FromConfig(cfg *config.Config) Router {
	return Router{
		Reviewer: cfg.Routing.Reviewer,
		Rules:    cfg.Routing.Automation,
	}
}

// Route maps a draft protocol to a queue assignee. A nil result is the robot
// lane. The rule chain is ordered and first match wins:
//
//  1. resubmissions always return to manual review
//  2. distributions (first filing of a case) are manual
//  3. anything carrying observations is manual
//  4. second-degree filings are manual
//  5. otherwise the (system, court) allowlist decides
func (r Router) Route(d Draft, isDistribution, isResubmission bool, previousAssignee *string) *string {
	if isResubmission {
		return r.reviewer()
	}
	if isDistribution {
		return r.reviewer()
	}
	if strings.TrimSpace(d.Observations) != "" {
		return r.reviewer()
	}
	if d.Degree == domain.DegreeSecond {
		return r.reviewer()
	}
	if r.AutomationEligible(d.System, d.Court) {
		return nil
	}
	return r.reviewer()
}

// AutomationEligible reports whether the robot lane is trusted with filings
// for the given system at the given court.
func (r Router) AutomationEligible(system, court string) bool {
	for _, rule := range r.Rules {
		if rule.System != system {
			continue
		}
		if len(rule.Courts) > 0 {
			for _, c := range rule.Courts {
				if c == court {
					return true
				}
			}
			return false
		}
		for _, c := range rule.ExceptCourts {
			if c == court {
				return false
			}
		}
		return true
	}
	return false
}

func (r Router) reviewer() *string {
	name := r.Reviewer
	return &name
}
