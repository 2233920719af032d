package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAccessOwned(t *testing.T) {
	owner := newUser("o1", "USER", nil)
	reader := newUser("r1", "EDITOR", []string{"documents.read"})
	stranger := newUser("s1", "USER", nil)
	doc := Resource{ID: "d1", Type: "document", Owner: owner}

	assert.True(t, CanAccessOwned(owner, doc, ""))
	assert.True(t, CanAccessOwned(superAdmin(), doc, ""))
	assert.True(t, CanAccessOwned(reader, doc, "documents.read"))
	assert.False(t, CanAccessOwned(reader, doc, ""))
	assert.False(t, CanAccessOwned(stranger, doc, "documents.read"))
	assert.False(t, CanAccessOwned(stranger, Resource{ID: "orphan"}, ""))
	assert.False(t, CanAccessOwned(nil, doc, ""))
}

func TestCanAccessHierarchical(t *testing.T) {
	owner := newUser("o1", "USER", nil, withLevel(2), withDepartment("sales"))
	boss := newUser("b1", "MANAGER", nil, withLevel(5), withDepartment("sales"))
	outsider := newUser("x1", "MANAGER", nil, withLevel(9), withDepartment("hr"))

	assert.True(t, CanAccessHierarchical(boss, owner, 3))
	assert.False(t, CanAccessHierarchical(boss, owner, 4))
	assert.False(t, CanAccessHierarchical(outsider, owner, 1))
	assert.False(t, CanAccessHierarchical(boss, newUser("n1", "USER", nil), 0))
	assert.False(t, CanAccessHierarchical(boss, nil, 0))
}

func TestCanAccessRegional(t *testing.T) {
	owner := newUser("o1", "USER", nil, withRegion("eu"))
	local := newUser("l1", "USER", nil, withRegion("eu"))
	remote := newUser("r1", "USER", nil, withRegion("us"))
	nowhere := newUser("n1", "USER", nil)

	assert.True(t, CanAccessRegional(local, owner, false))
	assert.False(t, CanAccessRegional(remote, owner, false))
	assert.True(t, CanAccessRegional(remote, owner, true))
	assert.False(t, CanAccessRegional(nowhere, owner, true))
}

func TestCanAccessTeam(t *testing.T) {
	member := newUser("m1", "USER", nil)
	res := Resource{ID: "p1", Type: "project", TeamMemberIDs: []string{"a", "m1"}}

	assert.True(t, CanAccessTeam(member, res))
	assert.False(t, CanAccessTeam(newUser("z9", "USER", nil), res))
	assert.False(t, CanAccessTeam(nil, res))
}

func TestCheckResourceComposition(t *testing.T) {
	owner := newUser("o1", "USER", nil, withLevel(1), withDepartment("sales"), withRegion("eu"))
	boss := newUser("b1", "MANAGER", nil, withLevel(4), withDepartment("sales"), withRegion("us"))
	res := Resource{ID: "r1", Type: "report", Owner: owner}

	anyOf := ResourceOptions{Hierarchical: true, MinLevelDiff: 2, Regional: true}
	assert.Equal(t, Granted, CheckResource(boss, res, anyOf).Decision)

	allOf := anyOf
	allOf.RequireAll = true
	out := CheckResource(boss, res, allOf)
	assert.Equal(t, Denied, out.Decision)
	assert.Contains(t, out.Reason, "region")

	allOf.AllowCrossRegion = true
	assert.Equal(t, Granted, CheckResource(boss, res, allOf).Decision)

	out = CheckResource(boss, res, ResourceOptions{})
	assert.Equal(t, Denied, out.Decision)
	assert.Contains(t, out.Reason, "report r1")

	assert.Equal(t, Granted, CheckResource(superAdmin(), res, allOf).Decision)
	assert.Equal(t, Error, CheckResource(nil, res, allOf).Decision)
}

func TestFilterAccessible(t *testing.T) {
	me := newUser("me", "USER", nil)
	other := newUser("other", "USER", nil)
	resources := []Resource{
		{ID: "1", Owner: me},
		{ID: "2", Owner: other},
		{ID: "3", Owner: other, TeamMemberIDs: []string{"me"}},
		{ID: "4", Owner: me},
	}

	owned := FilterAccessible(me, resources, ResourceOptions{})
	assert.Equal(t, []string{"1", "4"}, resourceIDs(owned))

	shared := FilterAccessible(me, resources, ResourceOptions{Ownership: true, Team: true})
	assert.Equal(t, []string{"1", "3", "4"}, resourceIDs(shared))

	assert.Empty(t, FilterAccessible(nil, resources, ResourceOptions{}))
}

func resourceIDs(resources []Resource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.ID)
	}
	return out
}
