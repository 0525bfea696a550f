package event_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/backport-action/internal/event"
)

var _ = Describe("ParsePullRequestEvent", func() {
	const sample = `{
		"action": "labeled",
		"label": {"name": "backport release/v0.25"},
		"repository": {
			"name": "backport-action",
			"owner": {"login": "rancher"}
		},
		"pull_request": {
			"number": 123,
			"merged": true,
			"merge_commit_sha": "abc123",
			"title": "Fix bug",
			"base": {"ref": "dev"},
			"head": {"ref": "feature", "sha": "def456"},
			"labels": [
				{"name": "backport release/v0.25"},
				{"name": "kind/bug"}
			]
		}
	}`

	It("parses repository and pull request details", func() {
		payload, err := event.ParsePullRequestEvent(strings.NewReader(sample))
		Expect(err).NotTo(HaveOccurred())

		Expect(payload.Action).To(Equal(event.PullRequestActionLabeled))
		Expect(payload.Repository.Owner).To(Equal("rancher"))
		Expect(payload.Repository.Name).To(Equal("backport-action"))

		pr := payload.PullRequest
		Expect(pr.Number).To(Equal(123))
		Expect(pr.Merged).To(BeTrue())
		Expect(pr.MergeCommitSHA).To(Equal("abc123"))
		Expect(pr.BaseRef).To(Equal("dev"))
		Expect(pr.HeadRef).To(Equal("feature"))
		Expect(pr.Title).To(Equal("Fix bug"))
		Expect(pr.Labels).To(ConsistOf("backport release/v0.25", "kind/bug"))
		Expect(payload.LabelName).To(Equal("backport release/v0.25"))
		Expect(payload.Triggers()).To(BeTrue())
	})

	It("normalizes empty fields", func() {
		payload, err := event.ParsePullRequestEvent(strings.NewReader(`{"action":"CLOSED","repository":{"name":"repo","owner":{"login":"ORG"}},"pull_request":{"number":1,"merged":false}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Action).To(Equal(event.PullRequestActionClosed))
		Expect(payload.Repository.Owner).To(Equal("ORG"))
		Expect(payload.PullRequest.Labels).To(BeEmpty())
		Expect(payload.Triggers()).To(BeFalse())
	})

	It("ignores actions other than closed and labeled", func() {
		payload, err := event.ParsePullRequestEvent(strings.NewReader(`{"action":"synchronize","pull_request":{"number":2,"merged":true}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Triggers()).To(BeFalse())
	})

	It("reads the payload from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "event.json")
		Expect(os.WriteFile(path, []byte(sample), 0o600)).To(Succeed())

		payload, err := event.ParsePullRequestEventFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.PullRequest.Number).To(Equal(123))
	})

	It("rejects malformed JSON", func() {
		_, err := event.ParsePullRequestEvent(strings.NewReader("{"))
		Expect(err).To(HaveOccurred())
	})
})
