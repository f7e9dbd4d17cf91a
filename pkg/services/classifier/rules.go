package classifier

import "github.com/de-tools/hubcost/pkg/models/domain"

// Service names are spelled as the billing API reports them.
const (
	ServiceBackup     = "AWS Backup"
	ServiceEC2Other   = "EC2 - Other"
	ServiceEC2Compute = "Amazon Elastic Compute Cloud - Compute"
	ServiceEKS        = "Amazon Elastic Container Service for Kubernetes"
	ServiceEFS        = "Amazon Elastic File System"
	ServiceS3         = "Amazon Simple Storage Service"
	ServiceELB        = "Amazon Elastic Load Balancing"
	ServiceVPC        = "Amazon Virtual Private Cloud"
	TagVolumePurpose  = "2i2c:volume-purpose"
	TagNodePurpose    = "2i2c:node-purpose"
	TagPVCNamespace   = "kubernetes.io/created-for/pvc/namespace"
	TagPVCName        = "kubernetes.io/created-for/pvc/name"
	volumePurposeHome = "home-nfs"
	nodePurposeCore   = "core"
	supportNamespace  = "support"
	hubDatabaseVolume = "hub-db-dir"
)

// NATGatewayUsage is the part of "EC2 - Other" spent on the cluster's NAT
// gateway, shared by every hub.
var NATGatewayUsage = DimensionPredicate{
	Key: domain.DimensionUsageTypeGroup,
	Values: []string{
		"EC2: NAT Gateway - Running Hours",
		"EC2: NAT Gateway - Data Processed",
	},
}

// DefaultRules is evaluated top to bottom; the first matching rule wins.
// Narrowed rules for a service must precede its fallback.
var DefaultRules = []Rule{
	{Service: ServiceBackup, Component: domain.ComponentHomeStorage},
	{Service: ServiceEC2Other, Tag: &TagPredicate{Key: TagVolumePurpose, Value: volumePurposeHome}, Component: domain.ComponentHomeStorage},
	{Service: ServiceEC2Other, Tag: &TagPredicate{Key: TagNodePurpose, Value: nodePurposeCore}, Component: domain.ComponentCore},
	{Service: ServiceEC2Other, Dimension: &NATGatewayUsage, Component: domain.ComponentCore},
	{Service: ServiceEC2Other, Tag: &TagPredicate{Key: TagPVCNamespace, Value: supportNamespace}, Component: domain.ComponentCore},
	{Service: ServiceEC2Other, Tag: &TagPredicate{Key: TagPVCName, Value: hubDatabaseVolume}, Component: domain.ComponentCore},
	{Service: ServiceEC2Other, Component: domain.ComponentCompute},
	{Service: ServiceEC2Compute, Tag: &TagPredicate{Key: TagNodePurpose, Value: nodePurposeCore}, Component: domain.ComponentCore},
	{Service: ServiceEC2Compute, Component: domain.ComponentCompute},
	{Service: ServiceEKS, Component: domain.ComponentCore},
	{Service: ServiceEFS, Component: domain.ComponentHomeStorage},
	{Service: ServiceS3, Component: domain.ComponentObjectStorage},
	{Service: ServiceELB, Component: domain.ComponentNetworking},
	{Service: ServiceVPC, Component: domain.ComponentNetworking},
}
