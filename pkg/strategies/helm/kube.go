package helm

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ensureNamespace creates the target namespace when it does not exist yet.
func (s *Strategy) ensureNamespace(ctx context.Context, namespace string) error {
	_, err := s.client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: namespace}}
	if _, err := s.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return err
	}
	s.logger.Info().Str("namespace", namespace).Msg("Namespace created")
	return nil
}

// waitForWorkloads enumerates every workload object owned by the release and
// waits for each, sequentially, to reach its rollout-complete condition
// within the per-workload bound. Any workload failing to converge fails the
// whole pass and stashes its description and recent pod log tail for
// Diagnostics.
func (s *Strategy) waitForWorkloads(ctx context.Context, release string) error {
	selector := fmt.Sprintf("%s=%s", instanceLabel, release)
	listOpts := metav1.ListOptions{LabelSelector: selector}

	deployments, err := s.client.AppsV1().Deployments(s.namespace).List(ctx, listOpts)
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}
	for i := range deployments.Items {
		d := &deployments.Items[i]
		if err := s.waitRollout(ctx, "deployment", d.Name, selector, func(ctx context.Context) (bool, string, error) {
			return s.deploymentComplete(ctx, d.Name)
		}); err != nil {
			return err
		}
	}

	statefulSets, err := s.client.AppsV1().StatefulSets(s.namespace).List(ctx, listOpts)
	if err != nil {
		return fmt.Errorf("failed to list statefulsets: %w", err)
	}
	for i := range statefulSets.Items {
		ss := &statefulSets.Items[i]
		if err := s.waitRollout(ctx, "statefulset", ss.Name, selector, func(ctx context.Context) (bool, string, error) {
			return s.statefulSetComplete(ctx, ss.Name)
		}); err != nil {
			return err
		}
	}

	daemonSets, err := s.client.AppsV1().DaemonSets(s.namespace).List(ctx, listOpts)
	if err != nil {
		return fmt.Errorf("failed to list daemonsets: %w", err)
	}
	for i := range daemonSets.Items {
		ds := &daemonSets.Items[i]
		if err := s.waitRollout(ctx, "daemonset", ds.Name, selector, func(ctx context.Context) (bool, string, error) {
			return s.daemonSetComplete(ctx, ds.Name)
		}); err != nil {
			return err
		}
	}

	return nil
}

// waitRollout polls one workload's rollout condition until it completes or
// the bound expires.
func (s *Strategy) waitRollout(ctx context.Context, kind, name, selector string, check func(ctx context.Context) (bool, string, error)) error {
	deadline := time.Now().Add(s.rolloutTimeout)
	description := ""

	for {
		done, desc, err := check(ctx)
		if err != nil {
			return fmt.Errorf("failed to check %s %s: %w", kind, name, err)
		}
		if done {
			s.logger.Debug().Str(kind, name).Msg("Rollout complete")
			return nil
		}
		description = desc

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-time.After(s.rolloutPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.lastDiag = fmt.Sprintf("%s %s: %s\n%s",
		kind, name, description, s.podLogTail(ctx, selector))
	return fmt.Errorf("%s %s did not reach rollout-complete within %s: %s",
		kind, name, s.rolloutTimeout, description)
}

func (s *Strategy) deploymentComplete(ctx context.Context, name string) (bool, string, error) {
	d, err := s.client.AppsV1().Deployments(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return false, "", err
	}
	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	done := d.Status.ObservedGeneration >= d.Generation &&
		d.Status.UpdatedReplicas == desired &&
		d.Status.AvailableReplicas == desired
	desc := fmt.Sprintf("%d/%d replicas available, %d updated (generation %d observed %d)",
		d.Status.AvailableReplicas, desired, d.Status.UpdatedReplicas,
		d.Generation, d.Status.ObservedGeneration)
	return done, desc, nil
}

func (s *Strategy) statefulSetComplete(ctx context.Context, name string) (bool, string, error) {
	ss, err := s.client.AppsV1().StatefulSets(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return false, "", err
	}
	desired := int32(1)
	if ss.Spec.Replicas != nil {
		desired = *ss.Spec.Replicas
	}
	done := ss.Status.ObservedGeneration >= ss.Generation &&
		ss.Status.UpdatedReplicas == desired &&
		ss.Status.ReadyReplicas == desired
	desc := fmt.Sprintf("%d/%d replicas ready, %d updated",
		ss.Status.ReadyReplicas, desired, ss.Status.UpdatedReplicas)
	return done, desc, nil
}

func (s *Strategy) daemonSetComplete(ctx context.Context, name string) (bool, string, error) {
	ds, err := s.client.AppsV1().DaemonSets(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return false, "", err
	}
	done := ds.Status.UpdatedNumberScheduled == ds.Status.DesiredNumberScheduled &&
		ds.Status.NumberReady == ds.Status.DesiredNumberScheduled
	desc := fmt.Sprintf("%d/%d pods ready, %d updated",
		ds.Status.NumberReady, ds.Status.DesiredNumberScheduled,
		ds.Status.UpdatedNumberScheduled)
	return done, desc, nil
}

// podLogTail fetches recent log output from the release's pods, best-effort.
func (s *Strategy) podLogTail(ctx context.Context, selector string) string {
	pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil || len(pods.Items) == 0 {
		return ""
	}

	var tailLines int64 = 20
	var b strings.Builder
	for i := range pods.Items {
		pod := &pods.Items[i]
		raw, err := s.client.CoreV1().Pods(s.namespace).
			GetLogs(pod.Name, &corev1.PodLogOptions{TailLines: &tailLines}).
			Do(ctx).Raw()
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "--- pod %s ---\n%s\n", pod.Name, strings.TrimSpace(string(raw)))
	}
	return strings.TrimSpace(b.String())
}
