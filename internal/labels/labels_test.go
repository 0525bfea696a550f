package labels_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/backport-action/internal/labels"
)

var _ = Describe("Labels", func() {
	Describe("CollectTargets", func() {
		It("extracts unique bases matching the prefix", func() {
			labelNames := []string{
				"enhancement",
				"backport release/v0.25",
				"Backport release/v0.24",
				"backport release/v0.25",
				"backport ",
				"backport-skip",
				" backport release/v0.24 ",
			}

			targets, err := labels.CollectTargets(labelNames, "backport ")
			Expect(err).NotTo(HaveOccurred())
			Expect(labels.SortedBranches(targets)).To(Equal([]string{"release/v0.24", "release/v0.25"}))
			Expect(targets[0].Branch).To(Equal("release/v0.25"))
			Expect(targets[0].LabelName).To(Equal("backport release/v0.25"))
		})

		It("returns an error when the prefix is blank", func() {
			_, err := labels.CollectTargets([]string{"backport master"}, " ")
			Expect(err).To(HaveOccurred())
		})

		It("normalizes bases with refs prefix and stray slashes", func() {
			targets, err := labels.CollectTargets([]string{"backport refs/heads/release/v0.30//"}, "backport ")
			Expect(err).NotTo(HaveOccurred())
			Expect(targets).To(HaveLen(1))
			Expect(targets[0].Branch).To(Equal("release/v0.30"))
		})
	})

	Describe("TargetFromLabel", func() {
		It("resolves a single matching label", func() {
			target, ok := labels.TargetFromLabel("backport master", "backport ")
			Expect(ok).To(BeTrue())
			Expect(target.Branch).To(Equal("master"))
		})

		It("ignores unrelated labels", func() {
			_, ok := labels.TargetFromLabel("kind/bug", "backport ")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("TargetsFromBranches", func() {
		It("drops blank entries", func() {
			targets := labels.TargetsFromBranches([]string{" master ", "", "refs/heads/dev"})
			Expect(labels.SortedBranches(targets)).To(Equal([]string{"dev", "master"}))
		})
	})

	Describe("ValidateTargets", func() {
		It("accepts branch names with slashes", func() {
			targets := []labels.Target{
				{LabelName: "backport release/v0.25", Branch: "release/v0.25"},
				{Branch: "feature/foo/bar"},
			}
			Expect(labels.ValidateTargets(targets)).To(Succeed())
		})

		It("rejects names git refuses", func() {
			for _, branch := range []string{
				"feature with space",
				"feature..bad",
				"feature~bad",
				"feature^bad",
				"feature:bad",
				"feature@{1}",
				"release/",
				"a//b",
				"topic.lock",
				"@",
			} {
				err := labels.ValidateTargets([]labels.Target{{Branch: branch}})
				Expect(err).To(HaveOccurred(), "expected branch %q to be invalid", branch)
			}
		})
	})

	Describe("MergeTargets", func() {
		It("deduplicates branches while preserving first-seen order", func() {
			a := []labels.Target{{LabelName: "a", Branch: "release/v0.26"}}
			b := []labels.Target{{LabelName: "b", Branch: "release/v0.25"}, {LabelName: "c", Branch: "release/v0.26"}}

			merged := labels.MergeTargets(a, b)
			Expect(merged).To(HaveLen(2))
			Expect(merged[0].LabelName).To(Equal("a"))
			Expect(merged[1].Branch).To(Equal("release/v0.25"))
		})
	})

	Describe("NormalizeBranch", func() {
		It("strips refs/heads prefix, whitespace, and surrounding slashes", func() {
			Expect(labels.NormalizeBranch(" /refs/heads/release/v0.31/ ")).To(Equal("release/v0.31"))
		})

		It("returns empty string when normalization removes all characters", func() {
			Expect(labels.NormalizeBranch(" // ")).To(BeEmpty())
		})
	})
})
